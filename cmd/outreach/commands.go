package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeeves-cluster-organization/outreach/commbus"
	"github.com/jeeves-cluster-organization/outreach/coreengine/app"
	"github.com/jeeves-cluster-organization/outreach/coreengine/config"
	"github.com/jeeves-cluster-organization/outreach/coreengine/logging"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
	"github.com/jeeves-cluster-organization/outreach/coreengine/runtime"
)

// cliDeps lets tests swap collaborators. The zero value builds everything
// from settings and the process environment.
type cliDeps struct {
	options app.Options
	lookup  func(string) (string, bool)
}

// cli holds the flag values shared by every subcommand.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	deps   cliDeps

	configPath string
	logLevel   string
	message    string
	session    string
	model      string
	asJSON     bool
	stream     bool
	trace      bool
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer, deps cliDeps) *cobra.Command {
	if deps.lookup == nil {
		deps.lookup = os.LookupEnv
	}
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr, deps: deps}

	root := &cobra.Command{
		Use:   "outreach",
		Short: "Draft personalized outreach messages",
		Long: `Draft personalized outreach messages for email, LinkedIn, SMS and
WhatsApp. Each request is routed, the prospect is profiled, a campaign
brief is planned, drafts are written and critiqued, and weak channels are
revised within a fixed budget.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML settings file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR); logs go to stderr")

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate drafts for a request",
		Long: `Generate drafts for a request. The message comes from --message or,
when that is empty, from stdin. Use --session to keep a conversation across
calls so follow-ups like "make it shorter" refine the previous drafts.`,
		RunE: c.runGenerate,
	}
	generate.Flags().StringVarP(&c.message, "message", "m", "", "request text (default: read stdin)")
	generate.Flags().StringVar(&c.session, "session", "", "session id for multi-turn refinement")
	generate.Flags().StringVar(&c.model, "model", "", "model override")
	generate.Flags().BoolVar(&c.asJSON, "json", false, "print the full response as JSON")
	generate.Flags().BoolVar(&c.stream, "stream", false, "print progress events as they happen")
	generate.Flags().BoolVar(&c.trace, "trace", false, "print every bus event after the run")

	classify := &cobra.Command{
		Use:   "classify",
		Short: "Show how a request would be routed",
		RunE:  c.runClassify,
	}
	classify.Flags().StringVarP(&c.message, "message", "m", "", "request text (default: read stdin)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.stdout, "outreach %s\n", observability.ServiceVersion)
		},
	}

	root.AddCommand(generate, classify, version)
	return root
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

func (c *cli) engine(ctx context.Context, opts app.Options) (*app.App, error) {
	settings, err := config.LoadFile(c.configPath)
	if err != nil {
		return nil, err
	}
	if err := settings.ApplyEnvOverrides(c.deps.lookup); err != nil {
		return nil, err
	}
	logger := logging.Nop()
	if c.logLevel != "" {
		zl, err := logging.New(c.logLevel, true)
		if err != nil {
			return nil, err
		}
		logger = zl
	}
	return app.New(ctx, settings, logger, opts)
}

func (c *cli) readMessage() (string, error) {
	if c.message != "" {
		return c.message, nil
	}
	data, err := io.ReadAll(c.stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// =============================================================================
// GENERATE
// =============================================================================

func (c *cli) runGenerate(cmd *cobra.Command, args []string) error {
	msg, err := c.readMessage()
	if err != nil {
		return err
	}
	opts := c.deps.options
	var recorder *commbus.Recorder
	if c.trace {
		recorder = commbus.NewRecorder(0)
		opts.Recorder = recorder
	}
	engine, err := c.engine(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer engine.Close()

	req := runtime.Request{Message: msg, Model: c.model, SessionID: c.session}
	var resp *runtime.Response
	if c.stream {
		resp = c.streamRun(cmd.Context(), engine.Runner, req)
	} else {
		resp = engine.Runner.Run(cmd.Context(), req)
	}
	if resp == nil {
		return errors.New("run ended without a response")
	}

	if c.asJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		c.printResponse(resp)
	}

	if recorder != nil {
		for _, ev := range recorder.Events(resp.RequestID) {
			fmt.Fprintf(c.stderr, "%s %s\n", ev.At.Format("15:04:05.000"), ev.Type)
		}
	}
	return nil
}

func (c *cli) streamRun(ctx context.Context, runner *runtime.Runner, req runtime.Request) *runtime.Response {
	var resp *runtime.Response
	for ev := range runner.Stream(ctx, req) {
		if ev.Type == runtime.EventTypeFinal {
			resp = ev.Response
			continue
		}
		line := ev.Type
		if ev.Stage != "" {
			line += " " + ev.Stage
		}
		if ev.Round > 0 {
			line += fmt.Sprintf(" round=%d", ev.Round)
		}
		fmt.Fprintln(c.stderr, line)
	}
	return resp
}

func (c *cli) printResponse(resp *runtime.Response) {
	if !resp.HasDrafts() {
		fmt.Fprintln(c.stdout, resp.Reply)
		return
	}
	for i, channel := range resp.Content.Channels() {
		if i > 0 {
			fmt.Fprintln(c.stdout)
		}
		fmt.Fprintf(c.stdout, "== %s ==\n%s\n", channel, resp.Content[channel])
	}
	if reason, ok := resp.Metadata["terminal_reason"].(string); ok && reason != "completed_successfully" {
		fmt.Fprintf(c.stderr, "note: run ended with %s\n", reason)
	}
}

// =============================================================================
// CLASSIFY
// =============================================================================

func (c *cli) runClassify(cmd *cobra.Command, args []string) error {
	msg, err := c.readMessage()
	if err != nil {
		return err
	}
	engine, err := c.engine(cmd.Context(), c.deps.options)
	if err != nil {
		return err
	}
	defer engine.Close()

	route, err := engine.Runner.Classify(cmd.Context(), runtime.Request{Message: msg})
	if err != nil {
		return err
	}
	channels := make([]string, len(route.Channels))
	for i, ch := range route.Channels {
		channels[i] = string(ch)
	}
	fmt.Fprintf(c.stdout, "decision:   %s\n", route.Decision)
	fmt.Fprintf(c.stdout, "confidence: %d\n", route.Confidence)
	fmt.Fprintf(c.stdout, "channels:   %s\n", strings.Join(channels, ", "))
	if route.Reason != "" {
		fmt.Fprintf(c.stdout, "reason:     %s\n", route.Reason)
	}
	if route.Reply != "" {
		fmt.Fprintf(c.stdout, "reply:      %s\n", route.Reply)
	}
	return nil
}
