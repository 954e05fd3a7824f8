package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paperlens/backend/internal/analysis"
	"github.com/paperlens/backend/internal/llm"
	"github.com/paperlens/backend/internal/session"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a PDF, DOCX, TXT or HTML paper",
	Long: `Analyze a paper and print the overview. Papers seen before are restored
from history without calling the model.

Examples:
  paperlens analyze attention.pdf
  paperlens analyze attention.pdf --tabs critique,references --persona Student`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringSlice("tabs", nil, "extra tabs to load (critique, ideation, references, related, glossary, quiz, presentation, graph)")
	f.String("persona", "", "audience for new analyses (Student, Engineer, Expert, Researcher, General)")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := application.Sessions

	if p, _ := cmd.Flags().GetString("persona"); p != "" {
		if _, err := sessions.SetPersona(ctx, analysis.ParsePersona(p)); err != nil {
			return err
		}
	}

	a, err := openFile(ctx, sessions, args[0])
	if err != nil {
		return err
	}
	printOverview(a)

	tabs, _ := cmd.Flags().GetStringSlice("tabs")
	for _, name := range tabs {
		tab, err := analysis.ParseTab(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		data, err := sessions.LoadTab(ctx, tab)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %s\n", warn("!"), tab, llm.UserMessage(err))
			continue
		}
		printTab(tab, data)
	}

	application.Sessions.Wait()
	for _, rec := range application.Tracker.Records() {
		if rec.Fingerprint == a.Fingerprint {
			fmt.Printf("\n%s %.1f/100 (%s)\n", label("Quality:"), rec.QualityScore, rec.Rating)
		}
	}
	return nil
}

// openFile validates, parses and opens path, printing a readable reason when
// the file is rejected.
func openFile(ctx context.Context, sessions *session.Manager, path string) (*analysis.Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	name := filepath.Base(path)
	results, err := sessions.ValidateBatch(ctx, []session.Upload{{Name: name, Data: data}})
	if err != nil {
		return nil, err
	}
	if !results[0].Valid {
		return nil, errors.New(results[0].Reason)
	}

	fmt.Fprintln(os.Stderr, muted("Analyzing "+name+"..."))
	a, err := sessions.Open(ctx, name, results[0].Document.Text)
	if err != nil {
		return nil, errors.New(llm.UserMessage(err))
	}
	if s, err := sessions.Current(); err == nil && s.Restored {
		fmt.Fprintln(os.Stderr, muted("Loaded from history."))
	}
	return a, nil
}

func printOverview(a *analysis.Analysis) {
	fmt.Println(heading(a.Title))
	if len(a.Authors) > 0 {
		fmt.Println(muted(strings.Join(a.Authors, ", ")))
	}
	fmt.Println()
	fmt.Println(label("Summary"))
	fmt.Println(a.Summary)
	fmt.Println()
	fmt.Println(label("Takeaways"))
	for _, t := range a.Takeaways {
		fmt.Println("  •", t)
	}
	if len(a.KeyFindings) > 0 {
		fmt.Println()
		fmt.Println(label("Key findings"))
		for _, f := range a.KeyFindings {
			fmt.Println("  •", f.Finding)
			if f.Evidence != "" {
				fmt.Println("   ", muted(f.Evidence))
			}
		}
	}
}

func printTab(tab analysis.Tab, data any) {
	fmt.Println()
	fmt.Println(heading(strings.ToUpper(string(tab))))

	switch v := data.(type) {
	case analysis.Advanced:
		printPoints("Strengths", v.Strengths)
		printPoints("Weaknesses", v.Weaknesses)
		for _, h := range v.Hypotheses {
			fmt.Println("  •", h.Hypothesis)
			fmt.Println("   ", muted(h.ExperimentalDesign))
		}
	case []analysis.Reference:
		for _, r := range v {
			fmt.Println("  •", r.APA)
		}
	case []analysis.GlossaryTerm:
		for _, t := range v {
			fmt.Printf("  %s %s\n", label(t.Term+":"), t.Definition)
		}
	case *analysis.RelatedQueries:
		for _, q := range v.All() {
			fmt.Println("  •", q.Query)
		}
	case *analysis.Quiz:
		for i, q := range v.Questions {
			fmt.Printf("  %d. %s\n", i+1, q.Question)
			for _, o := range q.Options {
				fmt.Println("     -", o)
			}
		}
	case *analysis.Presentation:
		for i, s := range v.Slides {
			fmt.Printf("  %d. %s\n", i+1, s.Title)
		}
	case *analysis.KnowledgeGraph:
		fmt.Println(muted(fmt.Sprintf("  %d nodes, %d connections", len(v.Nodes), len(v.Links))))
		for _, n := range v.Nodes[1:] {
			fmt.Printf("  %s %s\n", label(n.Group+":"), n.Label)
		}
	default:
		fmt.Printf("  %v\n", v)
	}
}

func printPoints(title string, points []analysis.Point) {
	if len(points) == 0 {
		return
	}
	fmt.Println(label(title))
	for _, p := range points {
		fmt.Println("  •", p.Point)
	}
}
