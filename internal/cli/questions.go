package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"trivia-host/internal/app"
	"trivia-host/internal/config"
	"trivia-host/internal/domain"
	"trivia-host/internal/infra/memory"
)

// questionFile is the bulk import format:
//
//	owner: host-1
//	questions:
//	  - prompt: Capital of Peru?
//	    answer: Lima
type questionFile struct {
	Owner     string            `yaml:"owner"`
	Questions []domain.Question `yaml:"questions"`
}

// NewQuestionsCmd groups question maintenance commands.
func NewQuestionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Manage a host's question pool",
	}
	cmd.AddCommand(newImportCmd(configPath))
	return cmd
}

func newImportCmd(configPath *string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create questions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := readQuestionFile(args[0])
			if err != nil {
				return err
			}
			if owner == "" {
				owner = file.Owner
			}
			if owner == "" {
				return fmt.Errorf("owner is required (flag --owner or file field)")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			store, err := openStorage(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			service := app.NewHostService(memory.NewSessionStore(), memory.NewQuestionCache(store.questions, time.Minute),
				store.questions, store.results)
			n, err := service.ImportQuestions(cmd.Context(), owner, file.Questions)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d questions for %s\n", n, len(file.Questions), owner)
			return err
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id the questions belong to")
	return cmd
}

func readQuestionFile(path string) (questionFile, error) {
	var file questionFile
	data, err := os.ReadFile(path)
	if err != nil {
		return file, err
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Questions) == 0 {
		return file, fmt.Errorf("%s: no questions", path)
	}
	return file, nil
}
