package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/parley/pkg/session"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "parley inspects and manages persisted chat sessions",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger(viper.GetString("log-level"))
	},
}

func initLogger(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %s", level)
	}
	zerolog.SetGlobalLevel(parsed)

	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".parley", "sessions")
	}
	return filepath.Join(home, ".parley", "sessions")
}

func openStore() (*session.Store, error) {
	return session.NewStore(
		viper.GetString("storage-dir"),
		session.WithMaxSessions(viper.GetInt("max-sessions")),
	)
}

func init() {
	rootCmd.PersistentFlags().String("storage-dir", defaultStorageDir(), "Directory holding persisted sessions")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("max-sessions", session.DefaultMaxSessions, "Maximum number of persisted sessions")

	err := viper.BindPFlags(rootCmd.PersistentFlags())
	cobra.CheckErr(err)
	viper.SetEnvPrefix("PARLEY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(newSessionsCommand())
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".parley"))
	}
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err == nil {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("loaded config file")
	}
}

func formatSaveDate(saveDate int64) string {
	if saveDate <= 0 {
		return "-"
	}
	return time.UnixMilli(saveDate).Format(time.RFC3339)
}

func printSessionIndex(index map[string]session.IndexEntry) {
	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if index[ids[i]].SaveDate != index[ids[j]].SaveDate {
			return index[ids[i]].SaveDate > index[ids[j]].SaveDate
		}
		return ids[i] < ids[j]
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tLOCATION\tSAVED")
	for _, id := range ids {
		entry := index[id]
		title := entry.Title
		if title == "" {
			title = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, title, entry.Location, formatSaveDate(entry.SaveDate))
	}
	_ = w.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
