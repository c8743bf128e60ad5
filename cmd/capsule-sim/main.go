package main

import (
	"encoding/json"
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/timeloc/capsule-actors/support/scenario"
)

var log = logging.Logger("capsule-sim")

func main() {
	app := newApp()
	app.Setup()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERR: %v\n", err) // nolint: errcheck
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "capsule-sim",
		Usage:                "run time capsule scenarios against an in-memory chain",
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "log level of the vm, scenario and capsule-sim subsystems",
			},
		},
		Before: func(cctx *cli.Context) error {
			level := cctx.String("log-level")
			for _, system := range []string{"vm", "scenario", "capsule-sim"} {
				if err := logging.SetLogLevel(system, level); err != nil {
					return xerrors.Errorf("set log level of %s: %w", system, err)
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			runCmd,
			checkCmd,
		},
	}
}

var runCmd = &cli.Command{
	Name:      "run",
	Usage:     "run a scenario and print its transcript",
	ArgsUsage: "<scenario.toml>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print the result as JSON",
		},
	},
	Action: func(cctx *cli.Context) error {
		res, err := runScenario(cctx)
		if err != nil {
			return err
		}

		if cctx.Bool("json") {
			enc := json.NewEncoder(cctx.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		w := cctx.App.Writer
		fmt.Fprint(w, res.Transcript())             // nolint: errcheck
		fmt.Fprintf(w, "height %d\n", res.Height)    // nolint: errcheck
		fmt.Fprintf(w, "root   %s\n", res.StateRoot) // nolint: errcheck
		fmt.Fprintf(w, "tip    %s\n", res.Tip)       // nolint: errcheck
		fmt.Fprintf(w, "digest %s\n", res.Digest())  // nolint: errcheck
		for _, f := range res.Failures {
			fmt.Fprintf(w, "FAIL %s\n", f) // nolint: errcheck
		}
		return nil
	},
}

var checkCmd = &cli.Command{
	Name:      "check",
	Usage:     "run a scenario and fail if any expectation or state invariant does not hold",
	ArgsUsage: "<scenario.toml>",
	Action: func(cctx *cli.Context) error {
		res, err := runScenario(cctx)
		if err != nil {
			return err
		}
		if err := res.Check(); err != nil {
			return cli.Exit(err.Error(), 1)
		}
		fmt.Fprintf(cctx.App.Writer, "ok %s: %d entries, digest %s\n", res.Name, len(res.Entries), res.Digest()) // nolint: errcheck
		return nil
	},
}

func runScenario(cctx *cli.Context) (*scenario.Result, error) {
	if cctx.NArg() != 1 {
		return nil, xerrors.Errorf("expected one scenario file, got %d arguments", cctx.NArg())
	}
	path := cctx.Args().First()

	sc, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	log.Infow("running scenario", "path", path, "name", sc.Name)
	return scenario.Run(cctx.Context, sc)
}
