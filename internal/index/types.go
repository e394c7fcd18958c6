package index

type Session struct {
	ID             string
	Title          string
	LastActivityTS int64
	MessageCount   int
	Preview        string
	Score          int
}

type Message struct {
	ID        int64
	MessageID string
	SessionID string
	TS        int64
	Role      string
	Content   string
}
