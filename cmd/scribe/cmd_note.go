// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScribe/services/executor"
	"github.com/AleutianAI/AleutianScribe/services/notes"
	"github.com/AleutianAI/AleutianScribe/services/runtime"
	"github.com/AleutianAI/AleutianScribe/services/tasks"
)

var (
	noteAudioPath  string
	noteAudioMIME  string
	noteTranscript string
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Create and manage clinical notes",
}

var noteNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a note from a recorded clip or typed transcript",
	Long: `Creates a note. In AI mode, --audio is transcribed, proofread and
summarized by the on-device model. In manual mode (or with
--transcript), the deterministic template pipeline is used instead.`,
	RunE: runNoteNew,
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		all, err := a.store.List()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("No notes yet.")
			return nil
		}
		for _, n := range all {
			fmt.Printf("%s  %s  %s\n", n.ID, n.UpdatedAt.Local().Format("2006-01-02 15:04"), firstLine(n.BestTranscript()))
		}
		return nil
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.store.Load(args[0])
		if errors.Is(err, notes.ErrNotFound) {
			return fmt.Errorf("no note with ID %s", args[0])
		}
		if err != nil {
			return err
		}
		printNote(n)
		return nil
	},
}

var noteExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Render one note as markdown on stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.store.Load(args[0])
		if errors.Is(err, notes.ErrNotFound) {
			return fmt.Errorf("no note with ID %s", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("# Clinical note %s\n\n", n.ID)
		fmt.Printf("Created %s\n\n", n.CreatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Print(n.Summary.Markdown())
		if t := n.BestTranscript(); t != "" {
			fmt.Printf("\n## Transcript\n\n%s\n", t)
		}
		return nil
	},
}

var noteDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Delete(args[0]); errors.Is(err, notes.ErrNotFound) {
			return fmt.Errorf("no note with ID %s", args[0])
		} else if err != nil {
			return err
		}
		fmt.Println("Deleted.")
		return nil
	},
}

var noteClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every note",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.store.Clear(); err != nil {
			return err
		}
		fmt.Println("All notes deleted.")
		return nil
	},
}

func init() {
	noteNewCmd.Flags().StringVar(&noteAudioPath, "audio", "", "path to the recorded audio clip")
	noteNewCmd.Flags().StringVar(&noteAudioMIME, "mime", "audio/webm", "MIME type of the clip")
	noteNewCmd.Flags().StringVar(&noteTranscript, "transcript", "", "typed transcript (manual mode)")
	noteCmd.AddCommand(noteNewCmd, noteListCmd, noteShowCmd, noteExportCmd, noteDeleteCmd, noteClearCmd)
}

func runNoteNew(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tier := a.sessions.Probe(ctx)
	capable := tier != runtime.TierUnavailable
	a.observeCapability(capable)
	mode := a.mode.Effective(capable)

	if noteTranscript != "" {
		// Typed input always goes through the manual pipeline.
		mode = tasks.ModeManual
	}

	var note notes.Note
	switch mode {
	case tasks.ModeAI:
		note, err = buildNoteAI(ctx, a)
	default:
		note, err = buildNoteManual(a)
	}
	if err != nil {
		if errors.Is(err, executor.ErrAborted) {
			fmt.Println("\nStopped.")
			return nil
		}
		return err
	}

	saved, err := a.store.Save(note)
	if err != nil {
		return err
	}
	fmt.Printf("\nSaved note %s\n", saved.ID)
	printNote(saved)
	return nil
}

func buildNoteAI(ctx context.Context, a *app) (notes.Note, error) {
	if noteAudioPath == "" {
		return notes.Note{}, errors.New("--audio is required in AI mode (or pass --transcript)")
	}
	data, err := os.ReadFile(noteAudioPath)
	if err != nil {
		return notes.Note{}, fmt.Errorf("reading audio clip: %w", err)
	}
	clip := tasks.Clip{MIMEType: noteAudioMIME, Data: data}

	// Running the command is the explicit user gesture that permits
	// model setup.
	if err := a.sessions.BeginSetup(ctx); err != nil {
		return notes.Note{}, err
	}

	fmt.Println("Transcribing…")
	transcript, err := a.tasks.TranscribeStream(ctx, []tasks.Clip{clip}, func(token string) {
		fmt.Print(token)
	})
	if err != nil {
		return notes.Note{}, err
	}
	fmt.Println()

	fmt.Println("Proofreading…")
	cleaned, err := a.tasks.Proofread(ctx, transcript)
	if err != nil {
		return notes.Note{}, err
	}

	fmt.Println("Composing summary…")
	summary, err := a.tasks.ComposeSummary(ctx, cleaned)
	if err != nil {
		return notes.Note{}, err
	}

	return notes.Note{
		Transcript:        transcript,
		CleanedTranscript: cleaned,
		Summary:           summary,
		Audio: &notes.AudioRef{
			Path:      noteAudioPath,
			MIMEType:  noteAudioMIME,
			SizeBytes: int64(len(data)),
		},
	}, nil
}

func buildNoteManual(a *app) (notes.Note, error) {
	if noteTranscript == "" {
		return notes.Note{}, errors.New("manual mode needs --transcript; transcription requires the on-device model")
	}
	cleaned := tasks.ProofreadManual(noteTranscript)
	return notes.Note{
		Transcript:        noteTranscript,
		CleanedTranscript: cleaned,
		Summary:           tasks.ComposeSummaryManual(cleaned),
	}, nil
}

func printNote(n notes.Note) {
	fmt.Printf("\nSubjective: %s\n", n.Summary.Subjective)
	fmt.Printf("Objective:  %s\n", n.Summary.Objective)
	fmt.Printf("Assessment: %s\n", n.Summary.Assessment)
	fmt.Printf("Plan:       %s\n", n.Summary.Plan)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || i > 60 {
			return s[:i] + "…"
		}
	}
	return s
}
