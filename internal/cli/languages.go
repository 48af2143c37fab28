package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/korli/pkg/language"
)

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported languages and levels",
		RunE:  runLanguages,
	}
}

func runLanguages(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LANGUAGE\tCODE\tGREETING")
	for _, lang := range language.Default().All() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", lang.Name, lang.Code, lang.Greeting)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nLevels: %s\n", strings.Join(language.Levels, ", "))
	return nil
}
