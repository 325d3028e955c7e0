package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/cuwacunu/tsi/internal/bnf"
	"github.com/cuwacunu/tsi/internal/board"
	"github.com/cuwacunu/tsi/internal/chunker"
	"github.com/cuwacunu/tsi/internal/config"
	"github.com/cuwacunu/tsi/internal/dataloader"
	"github.com/cuwacunu/tsi/internal/dataset"
	"github.com/cuwacunu/tsi/internal/embed"
	"github.com/cuwacunu/tsi/internal/errs"
	"github.com/cuwacunu/tsi/internal/idydb"
	"github.com/cuwacunu/tsi/internal/pipeline"
)

var (
	defaultModelDir = "./models"
	defaultOrtLib   = "./lib/onnxruntime.so"
	defaultThreads  = 0

	defaultSourcesGrammar  = "observation_sources.bnf"
	defaultSourcesDSL      = "observation_sources.dsl"
	defaultChannelsGrammar = "observation_channels.bnf"
	defaultChannelsDSL     = "observation_channels.dsl"
)

func main() {
	root := &cobra.Command{
		Use:   "tsi",
		Short: "DSL-driven training pipeline over memory-mapped market data",
		Long:  "tsi — grammar engine, board runtime, memory-mapped dataset layer, and the idydb record store behind them.",
	}

	var cfg struct {
		ModelDir     string `toml:"model-dir"`
		OrtLib       string `toml:"ort-lib"`
		Threads      int    `toml:"threads"`
		ArtifactRoot string `toml:"artifact-root"`

		Dtype     string `toml:"dtype"`
		Device    string `toml:"device"`
		TorchSeed string `toml:"torch-seed"`

		SourcesGrammar  string `toml:"sources-grammar"`
		SourcesDSL      string `toml:"sources-dsl"`
		ChannelsGrammar string `toml:"channels-grammar"`
		ChannelsDSL     string `toml:"channels-dsl"`
	}

	if b, err := os.ReadFile(".tsi.toml"); err == nil {
		if err := toml.Unmarshal(b, &cfg); err == nil {
			if cfg.ModelDir != "" {
				defaultModelDir = cfg.ModelDir
			}
			if cfg.OrtLib != "" {
				defaultOrtLib = cfg.OrtLib
			}
			if cfg.Threads > 0 {
				defaultThreads = cfg.Threads
			}
			if cfg.ArtifactRoot != "" {
				os.Setenv("TSI_ARTIFACT_ROOT", cfg.ArtifactRoot)
			}
			if cfg.SourcesGrammar != "" {
				defaultSourcesGrammar = cfg.SourcesGrammar
			}
			if cfg.SourcesDSL != "" {
				defaultSourcesDSL = cfg.SourcesDSL
			}
			if cfg.ChannelsGrammar != "" {
				defaultChannelsGrammar = cfg.ChannelsGrammar
			}
			if cfg.ChannelsDSL != "" {
				defaultChannelsDSL = cfg.ChannelsDSL
			}
		}
	}

	// The config space is the keyed store every command reads DSL text and
	// GENERAL settings through; the TOML file above only seeds it.
	space := config.New()
	general := map[string]string{
		config.KeyArtifactRoot: board.DefaultArtifactRoot(),
	}
	if cfg.Dtype != "" {
		general[config.KeyDtype] = cfg.Dtype
	}
	if cfg.Device != "" {
		general[config.KeyDevice] = cfg.Device
	}
	if cfg.TorchSeed != "" {
		general[config.KeyTorchSeed] = cfg.TorchSeed
	}
	if err := space.Init(general); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var modelDir string
	var ortLib string
	var numThreads int
	root.PersistentFlags().StringVar(&modelDir, "model-dir", defaultModelDir, "directory containing ONNX model files")
	root.PersistentFlags().StringVar(&ortLib, "ort-lib", defaultOrtLib, "path to onnxruntime.so (auto-detected if empty)")
	root.PersistentFlags().IntVar(&numThreads, "threads", defaultThreads, "ONNX intra-op thread count (0 = auto)")

	resolveOrtLib := func(flag string) string {
		if flag != "" {
			if _, err := os.Stat(flag); err == nil {
				absPath, _ := filepath.Abs(flag)
				return absPath
			}
		}
		if exe, err := os.Executable(); err == nil {
			candidate := filepath.Join(filepath.Dir(exe), "lib", "onnxruntime.so")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		return ""
	}

	openEmbedder := func() (*embed.Embedder, error) {
		fmt.Fprint(os.Stderr, "Loading model… ")
		e, err := embed.New(modelDir, resolveOrtLib(ortLib), numThreads)
		if err != nil {
			fmt.Fprintln(os.Stderr, "")
			return nil, err
		}
		fmt.Fprintln(os.Stderr, "ready.")
		return e, nil
	}

	// Observation DSL flags shared by the dataset and board commands.
	var obsFlags struct {
		sourcesGrammar  string
		sourcesDSL      string
		channelsGrammar string
		channelsDSL     string
	}
	addObservationFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&obsFlags.sourcesGrammar, "sources-grammar", defaultSourcesGrammar, "observation sources grammar file")
		cmd.Flags().StringVar(&obsFlags.sourcesDSL, "sources-dsl", defaultSourcesDSL, "observation sources instruction file")
		cmd.Flags().StringVar(&obsFlags.channelsGrammar, "channels-grammar", defaultChannelsGrammar, "observation channels grammar file")
		cmd.Flags().StringVar(&obsFlags.channelsDSL, "channels-dsl", defaultChannelsDSL, "observation channels instruction file")
	}

	// loadConfigKey reads a file into the config space under key and returns
	// the stored text, so every decode path consumes the keyed store rather
	// than the filesystem directly.
	loadConfigKey := func(key, path string) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		if err := space.UpdateConfig(map[string]string{key: string(b)}, nil); err != nil {
			return "", err
		}
		return space.MustGet(key)
	}

	decodeObservation := func() (pipeline.ObservationInstruction, error) {
		keyed := []struct {
			key  string
			path string
		}{
			{config.KeyObservationSourcesGrammar, obsFlags.sourcesGrammar},
			{config.KeyObservationSourcesDSL, obsFlags.sourcesDSL},
			{config.KeyObservationChannelsGrammar, obsFlags.channelsGrammar},
			{config.KeyObservationChannelsDSL, obsFlags.channelsDSL},
		}
		var texts [4]string
		for i, kp := range keyed {
			text, err := loadConfigKey(kp.key, kp.path)
			if err != nil {
				return pipeline.ObservationInstruction{}, err
			}
			texts[i] = text
		}
		return pipeline.DecodeObservationSplit(texts[0], texts[1], texts[2], texts[3])
	}

	// ---- tsi grammar check <file> ------------------------------------------
	grammarCmd := &cobra.Command{Use: "grammar", Short: "Grammar engine commands"}
	grammarCmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Parse and validate a BNF grammar file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			g, err := bnf.NewParser(string(b)).Parse()
			if err != nil {
				return err
			}
			start, _ := g.StartRule()
			fmt.Printf("ok: %d rules, start rule <%s>\n", len(g.Rules), start.LHS)
			return nil
		},
	})
	root.AddCommand(grammarCmd)

	// ---- tsi observation decode --------------------------------------------
	observationCmd := &cobra.Command{Use: "observation", Short: "Observation DSL commands"}
	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode the observation sources + channels DSL and print the merged instruction",
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := decodeObservation()
			if err != nil {
				return err
			}
			fmt.Printf("source forms:      %d\n", len(obs.SourceForms))
			fmt.Printf("active channels:   %d\n", obs.CountChannels())
			fmt.Printf("max seq length:    %d\n", obs.MaxSequenceLength())
			fmt.Printf("max future length: %d\n", obs.MaxFutureSequenceLength())
			for _, f := range obs.SourceForms {
				fmt.Printf("  %s %s %s norm=%d %s\n", f.Instrument, f.RecordType, f.Interval, f.NormWindowValue(), f.SourcePath)
			}
			return nil
		},
	}
	addObservationFlags(decodeCmd)
	observationCmd.AddCommand(decodeCmd)
	root.AddCommand(observationCmd)

	// ---- tsi dataset binarize / watch --------------------------------------
	datasetCmd := &cobra.Command{Use: "dataset", Short: "Memory-mapped dataset commands"}

	var forceBinarize bool
	binarizeCmd := &cobra.Command{
		Use:   "binarize",
		Short: "Binarize every source form of the observation instruction",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			obs, err := decodeObservation()
			if err != nil {
				return err
			}
			for _, f := range obs.SourceForms {
				d, err := dataset.DescriptorFromSourceForm(f)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "binarizing %s…\n", d.CSVPath)
				if err := dataset.Binarize(ctx, d, forceBinarize); err != nil {
					if isInterrupted(err) {
						fmt.Fprintln(os.Stderr, "interrupted — existing binaries are untouched.")
						return nil
					}
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "done: %d source forms.\n", len(obs.SourceForms))
			return nil
		},
	}
	binarizeCmd.Flags().BoolVar(&forceBinarize, "force", false, "re-binarize even when the binary already exists")
	addObservationFlags(binarizeCmd)
	datasetCmd.AddCommand(binarizeCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Binarize, then watch the source CSVs and re-binarize on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			obs, err := decodeObservation()
			if err != nil {
				return err
			}
			var descs []dataset.Descriptor
			for _, f := range obs.SourceForms {
				d, err := dataset.DescriptorFromSourceForm(f)
				if err != nil {
					return err
				}
				if err := dataset.Binarize(ctx, d, false); err != nil {
					return err
				}
				descs = append(descs, d)
			}
			w, err := dataset.NewWatcher(descs)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "watching %d source files… (Ctrl+C to stop)\n", len(descs))
			return w.Watch(ctx)
		},
	}
	addObservationFlags(watchCmd)
	datasetCmd.AddCommand(watchCmd)
	root.AddCommand(datasetCmd)

	// ---- tsi board compile / run -------------------------------------------
	boardCmd := &cobra.Command{Use: "board", Short: "Board runtime commands"}

	boardCmd.AddCommand(&cobra.Command{
		Use:   "compile <contract-file>",
		Short: "Compile a contract and print its circuit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := board.Compile(string(b))
			if err != nil {
				return err
			}
			fmt.Printf("contract %s\n", c.Hash[:12])
			for _, idx := range c.Order {
				n := c.Nodes[idx]
				fmt.Printf("  %-12s %s\n", n.ID, n.Type.Canonical)
			}
			for _, e := range c.Edges {
				fmt.Printf("  %s@%s -> %s@%s\n", c.Nodes[e.Src].ID, e.SrcPort, c.Nodes[e.Dst].ID, e.DstPort)
			}
			return nil
		},
	})

	var boardGrammarPath, boardDSLPath string
	boardDecodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode the board DSL and print its contract/wave/bind tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			grammar, err := loadConfigKey(config.KeyBoardGrammar, boardGrammarPath)
			if err != nil {
				return err
			}
			dslText, err := os.ReadFile(boardDSLPath)
			if err != nil {
				return err
			}
			p, err := pipeline.NewBoardPipeline(grammar)
			if err != nil {
				return err
			}
			inst, err := p.Decode(string(dslText))
			if err != nil {
				return err
			}
			for _, c := range inst.Contracts {
				fmt.Printf("contract %-16s %s\n", c.ID, c.File)
			}
			for _, w := range inst.Waves {
				fmt.Printf("wave     %-16s %s\n", w.ID, w.File)
			}
			for _, b := range inst.Binds {
				fmt.Printf("bind     %-16s %s -> %s\n", b.ID, b.ContractRef, b.WaveRef)
			}
			return nil
		},
	}
	boardDecodeCmd.Flags().StringVar(&boardGrammarPath, "board-grammar", "board.bnf", "board grammar file")
	boardDecodeCmd.Flags().StringVar(&boardDSLPath, "board-dsl", "board.dsl", "board instruction file")
	boardCmd.AddCommand(boardDecodeCmd)

	var runFlags struct {
		instrument string
		steps      int
		batchSize  int
		workers    int
		sampler    string
		seed       int64
		dropLast   bool
	}
	runCmd := &cobra.Command{
		Use:   "run <contract-file>",
		Short: "Bind a contract to a wave over the configured dataloader and run it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			circuit, err := board.Compile(string(text))
			if err != nil {
				return err
			}

			obs, err := decodeObservation()
			if err != nil {
				return err
			}
			if err := dataset.BinarizeAll(ctx, obs, false); err != nil {
				return err
			}
			ds, err := dataset.OpenConcat(runFlags.instrument, obs)
			if err != nil {
				return err
			}
			defer ds.Close()

			var sampler dataloader.Sampler = dataloader.Sequential{}
			if runFlags.sampler == "random" {
				sampler = dataloader.NewRandom(runFlags.seed)
			}
			loader, err := dataloader.New(ds, sampler, dataloader.Config{
				BatchSize: runFlags.batchSize,
				Workers:   runFlags.workers,
				DropLast:  runFlags.dropLast,
				Timeout:   30 * time.Second,
			})
			if err != nil {
				return err
			}
			defer loader.Close()

			rt, err := board.NewRuntime(circuit, loader)
			if err != nil {
				return err
			}
			// Model components are not wired from the CLI; representation
			// nodes run as passthroughs so a contract can be exercised
			// end-to-end without trained weights.
			for _, n := range circuit.Nodes {
				if strings.Contains(n.Type.Canonical, ".representation.") {
					if err := rt.Bind(n.ID, board.Passthrough{}); err != nil {
						return err
					}
				}
			}

			rec, err := rt.RunBinding(ctx, board.Binding{
				ID:       filepath.Base(args[0]),
				Contract: circuit,
				Wave: board.Wave{
					ID:      "cli",
					Steps:   runFlags.steps,
					Sampler: loader.SamplerName(),
					Seed:    loader.Seed(),
				},
			}, board.Budget{})
			if err != nil && !isInterrupted(err) {
				fmt.Fprintf(os.Stderr, "run terminated: %v\n", err)
			}
			out, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	runCmd.Flags().StringVar(&runFlags.instrument, "instrument", "BTCUSDT", "instrument to open the dataset for")
	runCmd.Flags().IntVar(&runFlags.steps, "steps", 0, "wave step count (0 = until exhaustion)")
	runCmd.Flags().IntVar(&runFlags.batchSize, "batch", 32, "batch size")
	runCmd.Flags().IntVar(&runFlags.workers, "workers", 2, "dataloader workers")
	runCmd.Flags().StringVar(&runFlags.sampler, "sampler", "sequential", "sampler: sequential or random")
	runCmd.Flags().Int64Var(&runFlags.seed, "seed", 42, "random sampler seed")
	runCmd.Flags().BoolVar(&runFlags.dropLast, "drop-last", true, "drop the trailing partial batch")
	addObservationFlags(runCmd)
	boardCmd.AddCommand(runCmd)
	root.AddCommand(boardCmd)

	// ---- tsi idydb … -------------------------------------------------------
	idydbCmd := &cobra.Command{Use: "idydb", Short: "Embedded record store commands"}

	var passphrase string
	var readonly bool
	idydbCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "open the store encrypted with this passphrase")
	idydbCmd.PersistentFlags().BoolVar(&readonly, "readonly", false, "block all mutators")

	openStore := func(path string, create bool) (*idydb.Store, error) {
		var flags idydb.Flags
		if create {
			flags |= idydb.FlagCreate
		}
		if readonly {
			flags |= idydb.FlagReadonly
		}
		if passphrase != "" {
			return idydb.OpenEncrypted(path, flags, passphrase)
		}
		return idydb.Open(path, flags)
	}

	idydbCmd.AddCommand(&cobra.Command{
		Use:   "put <path> <col> <row> <type> <value>",
		Short: "Insert a typed value (int, float, bool, text, vector)",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(args[0], true)
			if err != nil {
				return err
			}
			defer s.Close()
			col, row, err := parseColRow(args[1], args[2])
			if err != nil {
				return err
			}
			switch args[3] {
			case "int":
				v, err := strconv.ParseInt(args[4], 10, 32)
				if err != nil {
					return err
				}
				return s.InsertInt(col, row, int32(v))
			case "float":
				v, err := strconv.ParseFloat(args[4], 32)
				if err != nil {
					return err
				}
				return s.InsertFloat(col, row, float32(v))
			case "bool":
				v, err := strconv.ParseBool(args[4])
				if err != nil {
					return err
				}
				return s.InsertBool(col, row, v)
			case "text":
				return s.InsertConstChar(col, row, args[4])
			case "vector":
				vec, err := parseVector(args[4])
				if err != nil {
					return err
				}
				return s.InsertVector(col, row, vec, uint16(len(vec)))
			default:
				return fmt.Errorf("unknown type %q (want int, float, bool, text, vector)", args[3])
			}
		},
	})

	idydbCmd.AddCommand(&cobra.Command{
		Use:   "get <path> <col> <row>",
		Short: "Extract and print a value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(args[0], false)
			if err != nil {
				return err
			}
			defer s.Close()
			col, row, err := parseColRow(args[1], args[2])
			if err != nil {
				return err
			}
			v := s.Extract(col, row)
			switch v.Type {
			case idydb.TypeNull:
				fmt.Println("NULL")
			case idydb.TypeInt:
				fmt.Println(v.Int)
			case idydb.TypeFloat:
				fmt.Println(v.Float)
			case idydb.TypeBool:
				fmt.Println(v.Bool)
			case idydb.TypeChar:
				fmt.Println(v.Char)
			case idydb.TypeVector:
				fmt.Println(v.Vector)
			}
			return nil
		},
	})

	idydbCmd.AddCommand(&cobra.Command{
		Use:   "del <path> <col> <row>",
		Short: "Delete a row",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(args[0], false)
			if err != nil {
				return err
			}
			defer s.Close()
			col, row, err := parseColRow(args[1], args[2])
			if err != nil {
				return err
			}
			return s.Delete(col, row)
		},
	})

	idydbCmd.AddCommand(&cobra.Command{
		Use:   "knn <path> <col> <k> <cosine|l2> <v1,v2,...>",
		Short: "k nearest neighbors in a vector column",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore(args[0], false)
			if err != nil {
				return err
			}
			defer s.Close()
			col64, err := strconv.ParseUint(args[1], 10, 16)
			if err != nil {
				return err
			}
			k, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			sim := idydb.Cosine
			if args[3] == "l2" {
				sim = idydb.L2
			}
			q, err := parseVector(args[4])
			if err != nil {
				return err
			}
			hits, err := s.KNNSearchVectorColumn(uint16(col64), q, uint16(len(q)), k, sim)
			if err != nil {
				return err
			}
			for _, h := range hits {
				fmt.Printf("%8d  %.4f\n", h.Row, h.Score)
			}
			return nil
		},
	})

	var ragTextCol, ragVecCol uint16
	ragAddCmd := &cobra.Command{
		Use:   "rag-add <path> <file>",
		Short: "Chunk a document, embed every chunk, and upsert them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			e, err := openEmbedder()
			if err != nil {
				return err
			}
			defer e.Close()

			s, err := openStore(args[0], true)
			if err != nil {
				return err
			}
			defer s.Close()
			s.SetEmbedder(e.DocumentFunc())
			rows, err := s.RagUpsertDocumentAutoEmbed(ragTextCol, ragVecCol, string(doc), chunker.DefaultOptions())
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "upserted %d chunks.\n", len(rows))
			return nil
		},
	}
	ragAddCmd.Flags().Uint16Var(&ragTextCol, "text-col", 10, "text column")
	ragAddCmd.Flags().Uint16Var(&ragVecCol, "vec-col", 11, "vector column")
	idydbCmd.AddCommand(ragAddCmd)

	var ragK, ragMaxLen int
	ragQueryCmd := &cobra.Command{
		Use:   "rag-query <path> <query>",
		Short: "Embed a query and print the assembled RAG context",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEmbedder()
			if err != nil {
				return err
			}
			defer e.Close()
			q, err := e.EmbedQuery(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			s, err := openStore(args[0], false)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx, err := s.RagQueryContext(ragTextCol, ragVecCol, q, uint16(len(q)), ragK, idydb.Cosine, ragMaxLen)
			if err != nil {
				return err
			}
			fmt.Println(ctx)
			return nil
		},
	}
	ragQueryCmd.Flags().Uint16Var(&ragTextCol, "text-col", 10, "text column")
	ragQueryCmd.Flags().Uint16Var(&ragVecCol, "vec-col", 11, "vector column")
	ragQueryCmd.Flags().IntVar(&ragK, "k", 4, "top-k chunks")
	ragQueryCmd.Flags().IntVar(&ragMaxLen, "max-len", 4096, "context byte cap")
	idydbCmd.AddCommand(ragQueryCmd)
	root.AddCommand(idydbCmd)

	// ---- tsi embed bench ---------------------------------------------------
	embedCmd := &cobra.Command{Use: "embed", Short: "Embedder commands"}
	embedCmd.AddCommand(&cobra.Command{
		Use:   "bench",
		Short: "Time end-to-end embedding latency on chunk-sized texts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEmbedder()
			if err != nil {
				return err
			}
			defer e.Close()

			// Sizes mirror what the RAG upsert path actually embeds: a query,
			// a mid-sized chunk, and a chunk at the chunker's default cap.
			texts := []struct {
				label string
				text  string
			}{
				{"query (9 words)    ", "the quick brown fox jumps over the lazy dog"},
				{"half chunk (~600B) ", strings.Repeat("the quick brown fox ", 30)},
				{"full chunk (~1200B)", strings.Repeat("the quick brown fox jumps over the lazy dog. ", 26)},
			}
			fmt.Printf("\n%-22s  %10s\n", "text size", "embed")
			fmt.Println(strings.Repeat("─", 36))
			for _, tc := range texts {
				start := time.Now()
				if _, err := e.EmbedOne(tc.text); err != nil {
					return fmt.Errorf("bench %s: %w", strings.TrimSpace(tc.label), err)
				}
				fmt.Printf("%-22s  %10s\n", tc.label, time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	})
	root.AddCommand(embedCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// isInterrupted returns true if err indicates a context cancellation or deadline.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, errs.ErrCancelled)
}

func parseColRow(colArg, rowArg string) (uint16, uint64, error) {
	col, err := strconv.ParseUint(colArg, 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("bad column %q: %w", colArg, err)
	}
	row, err := strconv.ParseUint(rowArg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad row %q: %w", rowArg, err)
	}
	return uint16(col), row, nil
}

func parseVector(arg string) ([]float32, error) {
	parts := strings.Split(arg, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("bad vector component %q: %w", p, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
