package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"analyst-chat/internal/backend"
	"analyst-chat/internal/config"
	"analyst-chat/internal/content"
	"analyst-chat/internal/export"
	"analyst-chat/internal/index"
	"analyst-chat/internal/logging"
	"analyst-chat/internal/proxy"
	"analyst-chat/internal/render"
	"analyst-chat/internal/session"
	"analyst-chat/internal/stream"
	"analyst-chat/internal/submit"
	"analyst-chat/internal/ui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultAskWidth = 100

func newRootCmd() *cobra.Command {
	v := config.New()

	rootCmd := &cobra.Command{
		Use:           config.AppName,
		Short:         "Chat with the data-analysis backend from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context(), v)
		},
	}
	cobra.CheckErr(config.BindFlags(rootCmd.PersistentFlags(), v))

	rootCmd.AddCommand(
		newAskCmd(v),
		newServeCmd(v),
		newVersionCmd(),
	)
	return rootCmd
}

func runTUI(ctx context.Context, v *viper.Viper) error {
	ctx, a, err := newApp(ctx, v, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	idx, err := index.New(ctx)
	if err != nil {
		return err
	}
	defer idx.Close()
	a.store.Observe(idx)
	logging.Debug(ctx, "search index ready", slog.Bool("fts5", idx.FTSEnabled()))

	exp, err := export.New(a.cfg.ExportDir)
	if err != nil {
		return err
	}

	m := ui.NewModel(ctx, ui.Deps{
		Config:    a.cfg,
		Store:     a.store,
		Streams:   a.streams,
		Submitter: a.submit,
		Resources: a.client,
		Indexer:   idx,
		Exporter:  exp,
	})
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newAskCmd(v *viper.Viper) *cobra.Command {
	var (
		files     []string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Submit one prompt and print the analysis when the stream ends",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
			ctx, a, err := newApp(cmd.Context(), v, appOptions{
				LogSink: errOut,
				Observer: stream.Hooks{
					OnStatus: func(_ string, status string) {
						if status != "" {
							fmt.Fprintln(errOut, "…", status)
						}
					},
				},
			})
			if err != nil {
				return err
			}
			defer a.Close()

			width, noColor := outputProfile(out, a.cfg.NoColor)
			opts := render.Options{Style: a.cfg.GlamourStyle, NoColor: noColor, Width: width}
			return ask(ctx, a, out, opts, strings.Join(args, " "), files, sessionID)
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "attach a data file (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing backend session")
	return cmd
}

func ask(ctx context.Context, a *app, out io.Writer, opts render.Options, prompt string, paths []string, sessionID string) error {
	if sessionID != "" {
		if _, err := a.store.Create(sessionID, session.DefaultTitle); err != nil {
			return err
		}
	}
	files := make([]backend.File, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("attach %s: %w", p, err)
		}
		files = append(files, backend.FileFromPath(p))
	}

	id, err := a.submit.Submit(ctx, submit.Request{Prompt: prompt, Files: files, SessionID: sessionID})
	if err != nil {
		if sessionID == "" {
			return errors.New(submit.FailureText(err))
		}
		return err
	}

	s, _ := a.store.Get(id)
	fmt.Fprintf(out, "session %s\n\n", s.ID)
	for _, m := range s.Messages {
		switch m.Role {
		case session.RoleUser:
			fmt.Fprintf(out, "> %s\n\n", m.Content)
		case session.RoleAssistant:
			body := content.Render(m.Content,
				func(text string) string { return render.Markdown(text, opts) },
				func(name string) string { return describeFigure(ctx, a.client, s.ID, m.RunID, name) })
			fmt.Fprintln(out, body)
			fmt.Fprintln(out)
		}
	}
	return nil
}

// outputProfile picks the render width and color mode for w. Anything that is
// not a terminal gets plain text at the default width.
func outputProfile(w io.Writer, noColor bool) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return defaultAskWidth, true
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = defaultAskWidth
	}
	return width, noColor
}

func describeFigure(ctx context.Context, c *backend.Client, sessionID, runID, name string) string {
	missing := "[ Diagram Not Found: " + name + " ]"
	u, err := c.ResourceURL(sessionID, runID, name)
	if err != nil {
		return missing
	}
	if found, err := c.ProbeResource(ctx, u); err != nil || !found {
		return missing
	}
	return fmt.Sprintf("[%s chart: %s] %s", content.ChartKind(name), name, u)
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the submission proxy at /api/process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := newApp(cmd.Context(), v, appOptions{LogSink: cmd.ErrOrStderr(), Direct: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return proxy.ListenAndServe(ctx, a.cfg.ListenAddr, a.client)
		},
	}
	cmd.Flags().String(config.KeyListenAddr, config.DefaultListenAddr, "address the proxy listens on")
	cobra.CheckErr(v.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup(config.KeyListenAddr)))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", config.AppName, version)
		},
	}
}
