package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/cache"
	"github.com/Paranoid-AF/ghostlet/docs"
	"github.com/Paranoid-AF/ghostlet/errors"
	"github.com/Paranoid-AF/ghostlet/generate"
	"github.com/Paranoid-AF/ghostlet/telemetry"
)

type completeOptions struct {
	line      uint32
	character uint32
	language  string
	repeat    int
	verbose   bool
}

// completeEntry is the TOML record written for each request.
type completeEntry struct {
	Request     completeRequest      `toml:"request"`
	Completions []completeSuggestion `toml:"completions,omitempty"`
	Error       string               `toml:"error,omitempty"`
}

type completeRequest struct {
	Timestamp time.Time `toml:"timestamp"`
	URI       string    `toml:"uri"`
	Language  string    `toml:"language"`
	Line      uint32    `toml:"line"`
	Character uint32    `toml:"character"`
	ElapsedMS int64     `toml:"elapsed_ms"`
}

type completeSuggestion struct {
	UUID        string `toml:"uuid"`
	Text        string `toml:"text"`
	DisplayText string `toml:"display_text"`
}

func newCompleteCmd() *cobra.Command {
	opts := &completeOptions{}

	cmd := &cobra.Command{
		Use:   "complete <file>",
		Short: "Request a completion for a file position and print it as TOML",
		Long: `Request a completion for a position in a file, outside of any editor.

Each request is written to stdout as a TOML entry. With --repeat the same
position is requested again, which is served from the cache and keeps the
suggestion identities.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplete(cmd, args[0], opts)
		},
	}

	cmd.Flags().Uint32Var(&opts.line, "line", 0, "zero-based line")
	cmd.Flags().Uint32Var(&opts.character, "character", 0, "zero-based UTF-16 column")
	cmd.Flags().StringVar(&opts.language, "language", "", "language id (default from file extension)")
	cmd.Flags().IntVar(&opts.repeat, "repeat", 1, "number of identical requests")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")
	return cmd
}

func runComplete(cmd *cobra.Command, path string, opts *completeOptions) error {
	logger, err := setupLogger(opts.verbose, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := ghostlet.LoadConfig()
	if err != nil {
		return err
	}
	return completeFile(cmd, path, opts, generate.NewCompleter(cfg, logger), logger)
}

// completeFile drives an engine over one file. It is split from runComplete
// so the completer can be replaced.
func completeFile(cmd *cobra.Command, path string, opts *completeOptions, completer generate.Completer, logger *zap.SugaredLogger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", path)
	}
	uri := "file://" + filepath.ToSlash(abs)

	language := opts.language
	if language == "" {
		language = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	c := cache.New()
	defer c.Close()
	correlator := telemetry.NewCorrelator(nil, 0, logger)
	defer correlator.Close()
	store := docs.NewStore(c, correlator, logger)
	defer store.Release()
	store.Open(uri, language, 1, string(data))

	engine := generate.NewEngine(completer, store, c, correlator, logger)
	params := ghostlet.CompletionParams{Doc: ghostlet.DocumentParams{
		URI:        uri,
		Path:       abs,
		LanguageID: language,
		Position:   protocol.Position{Line: opts.line, Character: opts.character},
	}}

	repeat := max(opts.repeat, 1)
	var lastErr error
	for range repeat {
		start := time.Now()
		resp, err := engine.Complete(cmd.Context(), params)
		entry := completeEntry{Request: completeRequest{
			Timestamp: start.UTC().Truncate(time.Second),
			URI:       uri,
			Language:  language,
			Line:      opts.line,
			Character: opts.character,
			ElapsedMS: time.Since(start).Milliseconds(),
		}}
		if err != nil {
			entry.Error = err.Error()
			lastErr = err
		}
		for _, s := range resp.Completions {
			entry.Completions = append(entry.Completions, completeSuggestion{
				UUID:        s.UUID.String(),
				Text:        s.Text,
				DisplayText: s.DisplayText,
			})
		}
		if err := writeEntry(cmd.OutOrStdout(), entry); err != nil {
			return err
		}
	}
	return lastErr
}

func writeEntry(w io.Writer, entry completeEntry) error {
	if _, err := io.WriteString(w, "# "+strings.Repeat("=", 60)+"\n\n"); err != nil {
		return err
	}
	if err := toml.NewEncoder(w).Encode(entry); err != nil {
		return errors.Wrap(err, "encode entry")
	}
	_, err := io.WriteString(w, "\n")
	return err
}
