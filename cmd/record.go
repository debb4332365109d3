package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voicecollect/internal/audio"
	"github.com/audiolibrelab/voicecollect/internal/catalog"
	"github.com/audiolibrelab/voicecollect/internal/client"
	"github.com/audiolibrelab/voicecollect/internal/filename"
	"github.com/audiolibrelab/voicecollect/internal/service"
	"github.com/audiolibrelab/voicecollect/internal/session"
	"github.com/audiolibrelab/voicecollect/internal/upload"
)

var recordCmd = &cobra.Command{
	Use:   "record <subject-id>",
	Short: "Run a recording session for a subject",
	Long: `Run a recording session: each letter and command word is prompted in
order, three runs in total. Press Enter to record the prompted item; capture
stops after the time limit or when Enter is pressed again.

Commands at the prompt:
  Enter  record the current item
  r      redo the previous item
  q      quit (the session can be continued with --resume)

Every sample is saved locally first and uploaded in the background. Samples
that could not be uploaded are sent by 'voicecollect resync'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subjectID := service.NormalizeSubjectID(args[0])
		if !filename.ValidSubjectID(subjectID) {
			return fmt.Errorf("invalid subject id %q: digits only", args[0])
		}
		resume, _ := cmd.Flags().GetBool("resume")
		offline, _ := cmd.Flags().GetBool("offline")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := os.MkdirAll(cfg.Queue.Path, 0o755); err != nil {
			return fmt.Errorf("failed to create queue directory: %w", err)
		}
		lock := flock.New(filepath.Join(cfg.Queue.Path, "session-"+subjectID+".lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
		if !locked {
			return fmt.Errorf("a session for subject %s is already running", subjectID)
		}
		defer lock.Unlock()

		log, err := openSyncLog(cfg)
		if err != nil {
			return err
		}
		defer log.Close()

		cat, err := catalog.New(cfg.Session.Runs)
		if err != nil {
			return err
		}

		checkpoint := session.NewCheckpoint(filepath.Join(cfg.Queue.Path, "sessions"), subjectID)
		seq := session.NewSequencer(cat)
		if resume {
			pos, done, ok, err := checkpoint.Load()
			if err != nil {
				return err
			}
			if !ok {
				records, err := log.List(ctx, subjectID)
				if err != nil {
					return fmt.Errorf("failed to read local queue: %w", err)
				}
				pos, done = service.ResumePosition(cat, records)
			}
			if done {
				fmt.Printf("Session: subject %s is already complete (%d recordings)\n", subjectID, cat.TotalSlots())
				return nil
			}
			if seq, err = session.Resume(cat, pos); err != nil {
				return err
			}
			slog.Info("Resuming session", "subject_id", subjectID, "run", pos.Run, "item_index", pos.ItemIndex)
		}

		out := cmd.OutOrStdout()
		notify := func(n upload.Notice) {
			if n.Level == upload.LevelWarn {
				fmt.Fprintf(out, "\nWarning: %s\n", n.Message)
				return
			}
			slog.Debug("Upload notice", "file_name", n.FileName, "message", n.Message)
		}

		var uploader upload.Uploader
		opts := []upload.Option{upload.WithNotify(notify)}
		if !offline {
			api, err := newAPIClient(cfg)
			if err != nil {
				return err
			}
			monitor := client.NewMonitor(api, cfg.Client.HealthInterval, func(online bool) {
				if online {
					fmt.Fprintf(out, "\nUpload: server is back online. Run 'voicecollect resync %s' to upload pending samples.\n", subjectID)
				} else {
					fmt.Fprintf(out, "\nUpload: server offline, samples are kept locally\n")
				}
			})
			monitorCtx, cancelMonitor := context.WithCancel(ctx)
			defer cancelMonitor()
			go monitor.Run(monitorCtx)

			uploader = api
			opts = append(opts, upload.WithOnline(monitor.Online))
		}
		queue := upload.New(log, uploader, opts...)

		controller, err := audio.NewCaptureController(&cfg.Capture)
		if err != nil {
			return fmt.Errorf("failed to create capture controller: %w", err)
		}

		svc, err := service.New(subjectID, seq, controller, queue, service.WithCheckpoint(checkpoint))
		if err != nil {
			return err
		}

		err = runSession(ctx, svc, cmd.InOrStdin(), out)
		svc.Wait()
		printSummary(ctx, svc, out)
		return err
	},
}

func init() {
	recordCmd.Flags().Bool("resume", false, "continue where the last session for this subject stopped")
	recordCmd.Flags().Bool("offline", false, "keep samples locally without contacting the server")
}

// runSession drives svc from line-oriented input until the session is
// complete, the user quits or ctx is cancelled.
func runSession(ctx context.Context, svc service.Service, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		snap := svc.Status()
		if snap.Status == service.StatusComplete {
			return nil
		}
		fmt.Fprintf(out, "\n[%5.1f%%] Run %d, item %q. Enter=record r=redo q=quit > ",
			snap.Progress, snap.Current.Run, snap.Current.Item)

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			done, err := recordSlot(ctx, svc, lines, out)
			if err != nil {
				if !service.Retryable(err) {
					return err
				}
				fmt.Fprintf(out, "Error: %v. Press Enter to try again.\n", err)
				continue
			}
			if done {
				return nil
			}
		case "r":
			res, err := svc.Redo(ctx)
			if err != nil {
				fmt.Fprintf(out, "Error: redo failed: %v\n", err)
				continue
			}
			if !res.Moved {
				fmt.Fprintln(out, "Already at the first item.")
				continue
			}
			note := "previous sample kept (already uploaded, it will be replaced)"
			if res.Discarded {
				note = "previous sample discarded"
			}
			fmt.Fprintf(out, "Redo: back to run %d, item %q: %s\n", res.Slot.Run, res.Slot.Item, note)
		case "q":
			return nil
		default:
			fmt.Fprintf(out, "Unknown command %q\n", line)
		}
	}
}

// stopRetryInterval paces repeated stop requests. A stop issued while the
// device is still being acquired is ignored by the controller.
const stopRetryInterval = 50 * time.Millisecond

// recordSlot captures the current slot. Any input line while recording
// stops the capture early; the stop is repeated until the capture ends.
func recordSlot(ctx context.Context, svc service.Service, lines <-chan string, out io.Writer) (bool, error) {
	type result struct {
		outcome *service.Outcome
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		// a cancelled session still saves the sample being captured
		outcome, err := svc.Record(context.WithoutCancel(ctx))
		resCh <- result{outcome, err}
	}()

	fmt.Fprint(out, "Recording: press Enter to stop ")
	done := ctx.Done()
	var ticker *time.Ticker
	var retry <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	requestStop := func() {
		svc.StopCapture()
		if ticker == nil {
			ticker = time.NewTicker(stopRetryInterval)
			retry = ticker.C
		}
	}
	for {
		select {
		case res := <-resCh:
			if res.err != nil {
				fmt.Fprintln(out)
				if errors.Is(res.err, session.ErrSessionComplete) {
					return true, nil
				}
				return false, res.err
			}
			fmt.Fprintf(out, "\nRecording: saved %s (%s)\n", res.outcome.Record.FileName, humanize.IBytes(uint64(res.outcome.Record.Size)))
			return res.outcome.Complete, nil
		case <-lines:
			requestStop()
			lines = nil
		case <-done:
			requestStop()
			done = nil
		case <-retry:
			svc.StopCapture()
		}
	}
}

func printSummary(ctx context.Context, svc service.Service, out io.Writer) {
	snap := svc.Status()
	records, err := svc.Records(context.WithoutCancel(ctx))
	if err != nil {
		slog.Warn("Could not read local queue", "subject_id", snap.SubjectID, "error", err)
		return
	}

	pending := 0
	for _, rec := range records {
		if !rec.IsSynced {
			pending++
		}
	}

	fmt.Fprintln(out)
	if snap.Status == service.StatusComplete {
		fmt.Fprintf(out, "Session complete for subject %s: %d of %d slots recorded\n",
			snap.SubjectID, snap.CompletedSlots, snap.TotalSlots)
	} else {
		fmt.Fprintf(out, "Session paused for subject %s at %.1f%% (%d of %d slots)\n",
			snap.SubjectID, snap.Progress, snap.CompletedSlots, snap.TotalSlots)
	}
	if pending > 0 {
		fmt.Fprintf(out, "Upload: %d sample(s) not yet uploaded. Run 'voicecollect resync %s'.\n", pending, snap.SubjectID)
	}
}
