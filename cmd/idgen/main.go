// idgen prints a MongoDB ObjectID, either for the current instant or for a
// caller-supplied ISO-8601 timestamp. Useful for building time-bounded _id
// range queries against collections keyed by ObjectID.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/marmos91/docbroker/internal/isodate"
	"github.com/marmos91/docbroker/internal/logger"
)

var (
	at       string
	logLevel string
	logDir   string
)

var rootCmd = &cobra.Command{
	Use:   "idgen",
	Short: "Generate a MongoDB ObjectID",
	Long: `Generate a MongoDB ObjectID.

Without flags the id embeds the current time. With --at the id embeds the
given ISO-8601 timestamp, which makes it usable as a boundary in _id range
queries.

Examples:
  # ObjectID for now
  idgen

  # ObjectID for a specific instant
  idgen --at 2024-03-01T12:00:00Z

  # Offset timestamps work too
  idgen --at 2024-03-01T12:00:00.250+02:00`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&at, "at", "a", "", "ISO-8601 timestamp to embed (default: now)")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.Flags().StringVarP(&logDir, "log-dir", "o", "", "Directory to write the log file into")
}

func run(cmd *cobra.Command, args []string) error {
	if err := logger.Init(logger.Config{Level: logLevel, Output: logDir}); err != nil {
		return err
	}

	var id primitive.ObjectID
	if at == "" {
		id = primitive.NewObjectID()
	} else {
		ts, err := isodate.Parse(at)
		if err != nil {
			return fmt.Errorf("invalid --at timestamp: %w", err)
		}
		id = primitive.NewObjectIDFromTimestamp(ts)
		logger.Debug("timestamp parsed", "at", isodate.Format(ts))
	}

	fmt.Println(id.Hex())
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
