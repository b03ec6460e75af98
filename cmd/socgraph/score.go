package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"socgraph/internal/scoring"
	"socgraph/internal/transform/logrecord"
)

var (
	scoreMessage  string
	scoreSource   string
	scoreHostname string
	scoreIP       string
	scoreAgent    string
	scoreFile     string
	scoreAll      bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a single message or a JSONL file of log records",
	Long: `Scores events and prints one assessment per line as JSON.

Either pass --message (with optional context flags) or --file with one JSON log
record per line. Benign results are skipped for files unless --all is given.`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreMessage, "message", "", "log message to score")
	scoreCmd.Flags().StringVar(&scoreSource, "source", "", "log source of --message")
	scoreCmd.Flags().StringVar(&scoreHostname, "hostname", "", "hostname of --message")
	scoreCmd.Flags().StringVar(&scoreIP, "ip", "", "ip address of --message")
	scoreCmd.Flags().StringVar(&scoreAgent, "agent", "", "agent id of --message")
	scoreCmd.Flags().StringVar(&scoreFile, "file", "", "JSONL file of log records")
	scoreCmd.Flags().BoolVar(&scoreAll, "all", false, "also print benign results for --file")
}

func runScore(cmd *cobra.Command, args []string) error {
	if (scoreMessage == "") == (scoreFile == "") {
		return errors.New("exactly one of --message or --file is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lib, err := loadLibrary(cfg)
	if err != nil {
		return err
	}
	_, assess, err := newScorers(cfg, lib, nil)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if scoreMessage != "" {
		return enc.Encode(assess(ctx, scoring.Input{
			Message:   scoreMessage,
			Source:    scoreSource,
			AgentID:   scoreAgent,
			Hostname:  scoreHostname,
			IPAddress: scoreIP,
		}))
	}

	f, err := os.Open(scoreFile)
	if err != nil {
		return fmt.Errorf("open records: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lines, scored, skipped := 0, 0, 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++
		rec, err := logrecord.Parse([]byte(line))
		if err != nil {
			skipped++
			continue
		}
		a := assess(ctx, scoring.InputFromRecord(rec))
		if a.IsBenign() && !scoreAll {
			continue
		}
		scored++
		if err := enc.Encode(a); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "scored lines=%d printed=%d unparseable=%d\n", lines, scored, skipped)
	return nil
}
