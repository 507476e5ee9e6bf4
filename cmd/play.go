package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"countcoach/config"
	"countcoach/core/analysis"
	"countcoach/core/engine"
	"countcoach/core/overlay"
	"countcoach/core/practice"
	"countcoach/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	playStart       float64
	playEnd         float64
	playCounts      int
	playSubdivision string
	playMode        string
	playAnchor      float64
	playSamples     string
	playNoAnalyze   bool
)

var playCmd = &cobra.Command{
	Use:   "play <audio.wav>",
	Short: "Practice a section locally with the count overlay",
	Long: `Play a WAV file section in a loop on the local audio device, run beat
analysis against the configured analyzer service, and speak/click the counts
on top. Overlay samples are loaded from a local directory.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel)})

		sampleDir := playSamples
		if sampleDir == "" {
			sampleDir = cfg.SampleDir
		}
		if sampleDir == "" {
			log.Fatal("No sample directory: set --samples or OVERLAY_SAMPLE_DIR")
		}

		store := overlay.NewStore(overlay.DirSource{Dir: sampleDir})
		status, err := store.EnsureLoaded(context.Background())
		if err != nil {
			log.Fatalf("Failed to load overlay samples: %v", err)
		}
		if status == overlay.StatusPartial {
			fmt.Println("Note: sample set incomplete, subdivision sounds disabled.")
		}

		section := overlay.Section{Start: playStart, End: playEnd}
		if section.End <= section.Start {
			log.Fatal("--end must be greater than --start")
		}

		eng := engine.New(store)
		if err := eng.LoadTrack(args[0], section); err != nil {
			log.Fatalf("Failed to load track: %v", err)
		}

		base := overlay.Config{
			TickInterval: cfg.TickInterval,
			Lookahead:    cfg.Lookahead,
			ResumeSlack:  cfg.ResumeSlack,
			VoiceAdvance: cfg.VoiceAdvance,
			ClickGain:    cfg.ClickGain,
			VoiceGain:    cfg.VoiceGain,
			VoiceBoost:   cfg.VoiceBoost,
			DownbeatGain: cfg.DownbeatGain,
			OnCount: func(label string) {
				fmt.Printf("\r  count: %-3s", label)
			},
		}

		sched := overlay.NewScheduler(eng, eng, base)
		session := practice.NewSession(uuid.NewString(), sched, base, section, practice.Config{
			Mode:           overlay.Mode(playMode),
			CountsPerCycle: playCounts,
			Subdivision:    overlay.Subdivision(playSubdivision),
		})

		if playNoAnalyze {
			fmt.Println("Skipping analysis; overlay disabled.")
		} else {
			fmt.Printf("Analyzing %s [%.2f, %.2f]...\n", args[0], playStart, playEnd)
			analyzer := analysis.NewClient(cfg.AnalyzerURL, cfg.AnalyzerTimeout)
			result, err := analyzer.Analyze(context.Background(), args[0], playStart, playEnd)
			if err != nil {
				log.Fatalf("Analysis failed: %v", err)
			}
			if !result.OK {
				fmt.Printf("Analyzer rejected the section: %s\n", result.Error)
			} else {
				fmt.Printf("Tempo %.1f BPM, %d beats.\n", result.BPM, len(result.BeatTimes))
			}
			session.SetTimeline(result.BeatTimes)
			if msg := session.Status(); msg != "" {
				fmt.Println(msg)
			}
		}

		if cmd.Flags().Changed("anchor") {
			session.SetAnchorTime(playAnchor)
		}

		eng.SeekTo(playStart)
		eng.Play()
		session.Play(eng)

		fmt.Println("Playing. Press Ctrl+C to stop.")
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		session.Pause()
		eng.Pause()
		fmt.Println("\nStopped.")
	},
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().Float64Var(&playStart, "start", 0, "section start in seconds")
	playCmd.Flags().Float64Var(&playEnd, "end", 0, "section end in seconds")
	playCmd.Flags().IntVar(&playCounts, "counts", 8, "counts per cycle (4 or 8)")
	playCmd.Flags().StringVar(&playSubdivision, "subdivision", "none", "subdivision: none or and")
	playCmd.Flags().StringVar(&playMode, "mode", "click+voice", "overlay mode: off, click, voice, click+voice")
	playCmd.Flags().Float64Var(&playAnchor, "anchor", 0, "time in seconds of the beat to count as \"1\"")
	playCmd.Flags().StringVar(&playSamples, "samples", "", "local overlay sample directory")
	playCmd.Flags().BoolVar(&playNoAnalyze, "no-analyze", false, "skip beat analysis (play without overlay)")

	playCmd.Example = `  # Loop bars 12s-28s with spoken counts
  countcoach play song.wav --start 12 --end 28 --samples ./samples

  # Click only, 4-count cycle, anchor count "1" at 12.4s
  countcoach play song.wav --start 12 --end 28 --counts 4 --mode click --anchor 12.4 --samples ./samples`
}
