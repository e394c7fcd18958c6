package submit

import "fmt"

// Notice is the user-visible message produced when attachments hit the cap.
type Notice string

// AttachFiles adds files to current without exceeding limit. Excess files are
// dropped and reported in the notice.
func AttachFiles[F any](current, added []F, limit int) ([]F, Notice) {
	if limit <= 0 {
		limit = DefaultMaxFiles
	}
	if len(current) >= limit {
		return current, Notice(fmt.Sprintf("You can only upload a maximum of %d files.", limit))
	}

	remaining := limit - len(current)
	var notice Notice
	if len(added) > remaining {
		added = added[:remaining]
		notice = Notice(fmt.Sprintf("You can only add %d more file(s). %d file(s) were added.", remaining, len(added)))
	}

	kept := make([]F, 0, len(current)+len(added))
	kept = append(kept, current...)
	kept = append(kept, added...)
	return kept, notice
}

// RemoveFile drops the attachment at index i.
func RemoveFile[F any](files []F, i int) []F {
	if i < 0 || i >= len(files) {
		return files
	}
	kept := make([]F, 0, len(files)-1)
	kept = append(kept, files[:i]...)
	return append(kept, files[i+1:]...)
}
