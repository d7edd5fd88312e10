package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pylearn/internal/challenge"
	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/progress"
	"github.com/felixgeelhaar/pylearn/internal/reference"
)

// withEnv loads config and opens the environment for one-shot commands
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	setupQuietLogging()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	e, err := openEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	return fn(ctx, e)
}

func lessonsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lessons",
		Short: "List lessons with completion state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				printLessons(cmd.OutOrStdout(), e.catalog.All(), e.progress.Load(ctx))
				return nil
			})
		},
	}
}

func printLessons(w io.Writer, lessons []*domain.Lesson, p *domain.Progress) {
	for _, l := range lessons {
		mark := " "
		switch {
		case p.HasLesson(l.ID):
			mark = "✓"
		case l.ID == p.CurrentLessonID:
			mark = "▸"
		}
		quiz := "-"
		if l.HasQuiz() {
			quiz = "quiz"
			if p.HasQuiz(l.ID) {
				quiz = "quiz ✓"
			}
		}
		fmt.Fprintf(w, "%s %2d. %-40s %-7s %d/3\n",
			mark, l.ID, l.Title, quiz, len(p.ChallengesFor(l.ID)))
	}
}

func referenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reference <lesson>",
		Short: "Print the quick reference of a lesson",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid lesson id %q", args[0])
			}
			return withEnv(cmd, func(_ context.Context, e *env) error {
				view, err := reference.NewPanel(e.catalog, e.tr, slog.Default()).Render(id)
				if err != nil {
					return err
				}
				printReference(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}
}

func printReference(w io.Writer, v reference.View) {
	fmt.Fprintf(w, "%s\n\n", v.Title)
	if len(v.Syntax) > 0 {
		fmt.Fprintln(w, "Syntax:")
		for _, s := range v.Syntax {
			fmt.Fprintf(w, "  %-30s %s\n", s.Code, s.Desc)
		}
	}
	if len(v.Functions) > 0 {
		fmt.Fprintln(w, "Functions:")
		for _, f := range v.Functions {
			fmt.Fprintf(w, "  %-30s %s\n", f.Name, f.Desc)
		}
	}
	for _, ex := range v.Examples {
		fmt.Fprintf(w, "Example: %s\n%s\n", ex.Title, indent(ex.Code))
	}
	if len(v.Errors) > 0 {
		fmt.Fprintln(w, "Common errors:")
		for _, e := range v.Errors {
			fmt.Fprintf(w, "  %s: %s\n", e.Error, e.Cause)
		}
	}
}

func indent(code string) string {
	return "    " + strings.ReplaceAll(strings.TrimRight(code, "\n"), "\n", "\n    ")
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file.py>",
		Short: "Run a Python file in the configured runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				if err := e.gateway.Initialize(ctx); err != nil {
					return err
				}
				ctrl := challenge.New(e.catalog, e.progress, e.gateway, e.tr, slog.Default())
				out, err := ctrl.Run(ctx, string(code))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.Output)
				if out.IsError {
					return fmt.Errorf("program failed")
				}
				return nil
			})
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <lesson> <easy|medium|hard> <file.py>",
		Short: "Grade a solution file and record it on success",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid lesson id %q", args[0])
			}
			d, err := domain.ParseDifficulty(args[1])
			if err != nil {
				return err
			}
			code, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}

			return withEnv(cmd, func(ctx context.Context, e *env) error {
				ctrl := challenge.New(e.catalog, e.progress, e.gateway, e.tr, slog.Default())
				wasDone := e.progress.IsChallengeCompleted(ctx, id, d)
				loaded, err := ctrl.Load(ctx, id, d)
				if err != nil {
					return err
				}
				if loaded.Challenge == nil {
					return fmt.Errorf("lesson %d has no %s challenge", id, d)
				}
				if err := e.gateway.Initialize(ctx); err != nil {
					return err
				}

				out, err := ctrl.Submit(ctx, string(code))
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s\n\n%s\n", out.Output, out.Feedback)
				if !out.Passed {
					return fmt.Errorf("%s challenge of lesson %d not passed", d, id)
				}
				fmt.Fprintln(w, checkSummary(ctx, e.progress, id, d, wasDone))
				return nil
			})
		},
	}
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show overall completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				printProgress(ctx, cmd.OutOrStdout(), e.progress, e.catalog.Count())
				return nil
			})
		},
	}
}

func printProgress(ctx context.Context, w io.Writer, store *progress.Store, total int) {
	sum := store.Summary(ctx, total)
	bar := renderProgressBar(float64(sum.Percentage)/100, 30)
	fmt.Fprintf(w, "Progress: %s %d/%d (%d%%)\nCurrent lesson: %d\n",
		bar, sum.CompletedLessons, sum.TotalLessons, sum.Percentage, sum.CurrentLesson)

	done := slices.Sorted(slices.Values(store.CompletedLessons(ctx)))
	if len(done) == 0 {
		return
	}
	ids := make([]string, len(done))
	for i, id := range done {
		ids[i] = strconv.Itoa(id)
	}
	fmt.Fprintf(w, "Completed lessons: %s\n", strings.Join(ids, ", "))
}

// checkSummary says what a passing submission changed in the saved
// progress.
func checkSummary(ctx context.Context, store *progress.Store, lessonID int, d domain.Difficulty, wasDone bool) string {
	switch {
	case wasDone:
		return fmt.Sprintf("The %s challenge of lesson %d was already completed.", d, lessonID)
	case store.IsLessonCompleted(ctx, lessonID):
		return fmt.Sprintf("Lesson %d completed!", lessonID)
	case store.IsChallengeCompleted(ctx, lessonID, d):
		return fmt.Sprintf("Recorded the %s challenge of lesson %d.", d, lessonID)
	}
	return ""
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Erase all saved progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Reset all progress?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				if !e.progress.Reset(ctx) {
					return fmt.Errorf("progress could not be reset")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Progress reset.")
				return nil
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
