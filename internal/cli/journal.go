package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sinkguard/internal/audit"
)

var tailLines int

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalVerifyCmd)
	journalCmd.AddCommand(journalTailCmd)
	journalTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Companion journal operations",
	Long:  "Commands for verifying and inspecting the companion's hash-chained journal.",
}

var journalVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the journal",
	Long:  "Walks the JSONL journal and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Defaults to the journal in the run directory.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJournalVerify,
}

var journalTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent journal entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJournalTail,
}

func journalPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return filepath.Join(companionPaths().RunDir, "journal.jsonl")
}

func runJournalVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(journalPath(args))
	if result.Valid {
		printf("OK: %d entries verified across %d sessions\n", result.Lines, result.Sessions)
		return nil
	}
	return fmt.Errorf("journal invalid at line %d: %s", result.ErrorLine, result.Error)
}

func runJournalTail(cmd *cobra.Command, args []string) error {
	f, err := os.Open(journalPath(args))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	start := len(lines) - tailLines
	if start < 0 {
		start = 0
	}
	for _, line := range lines[start:] {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			printf("%s\n", line)
			continue
		}
		out, _ := json.MarshalIndent(entry, "", "  ")
		printf("%s\n", out)
	}
	return nil
}
