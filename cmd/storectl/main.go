package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ruteri/resource-store/cmd/flags"
	"github.com/ruteri/resource-store/interfaces"
	"github.com/urfave/cli/v2"
)

var flagRoot = &cli.StringSliceFlag{
	Name:  "root",
	Usage: "root URI of a store; several roots are searched in order",
}
var flagConfig = &cli.StringFlag{
	Name:  "config",
	Usage: "stores file (yaml, toml or json) declaring roots, properties and parameters",
}
var flagSet = &cli.StringSliceFlag{
	Name:  "set",
	Usage: "store property as key=value, applied to every root",
}
var flagParam = &cli.StringSliceFlag{
	Name:  "param",
	Usage: "value for a ${name} placeholder in root URIs, as name=value",
}

var flagOut = &cli.StringFlag{
	Name:    "out",
	Aliases: []string{"o"},
	Usage:   "write the resource to this file instead of stdout",
}
var flagIn = &cli.StringFlag{
	Name:    "in",
	Aliases: []string{"i"},
	Usage:   "read the payload from this file instead of stdin",
}
var flagMimeType = &cli.StringFlag{
	Name:  "mime-type",
	Usage: "media type recorded with the payload",
}
var flagCharset = &cli.StringFlag{
	Name:  "charset",
	Usage: "text encoding recorded with the payload",
}

func main() {
	app := &cli.App{
		Name:  "storectl",
		Usage: "Read and write resources in URI-addressed stores",
		Flags: append([]cli.Flag{
			flagRoot,
			flagConfig,
			flagSet,
			flagParam,
			flags.LogServiceFlagFn("storectl"),
		}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "print a resource",
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{flagOut},
				Action: withSession(1, func(cCtx *cli.Context, s *session) error {
					return s.get(cCtx.Context, cCtx.Args().Get(0), cCtx.String(flagOut.Name), cCtx.App.Writer)
				}),
			},
			{
				Name:      "put",
				Usage:     "store a resource read from a file or stdin",
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{flagIn, flagMimeType, flagCharset},
				Action: withSession(1, func(cCtx *cli.Context, s *session) error {
					var in io.Reader = os.Stdin
					if name := cCtx.String(flagIn.Name); name != "" {
						f, err := os.Open(name)
						if err != nil {
							return err
						}
						defer f.Close()
						in = f
					}
					return s.put(cCtx.Context, cCtx.Args().Get(0), in,
						interfaces.WithMimeType(cCtx.String(flagMimeType.Name)),
						interfaces.WithCharset(cCtx.String(flagCharset.Name)))
				}),
			},
			{
				Name:      "rm",
				Usage:     "remove a resource",
				ArgsUsage: "PATH",
				Action: withSession(1, func(cCtx *cli.Context, s *session) error {
					return s.store.Remove(cCtx.Context, cCtx.Args().Get(0))
				}),
			},
			{
				Name:      "mv",
				Usage:     "move a resource, replacing the destination",
				ArgsUsage: "ORIGIN DEST",
				Action: withSession(2, func(cCtx *cli.Context, s *session) error {
					return s.store.Move(cCtx.Context, cCtx.Args().Get(0), cCtx.Args().Get(1))
				}),
			},
			{
				Name:      "exists",
				Usage:     "print whether a resource exists",
				ArgsUsage: "PATH",
				Action: withSession(1, func(cCtx *cli.Context, s *session) error {
					ok, err := s.store.Exists(cCtx.Context, cCtx.Args().Get(0))
					if err != nil {
						return err
					}
					fmt.Fprintln(cCtx.App.Writer, ok)
					return nil
				}),
			},
			{
				Name:  "schemes",
				Usage: "list the URI schemes stores can be opened for",
				Action: func(cCtx *cli.Context) error {
					s, err := newSession(cCtx, false)
					if err != nil {
						return err
					}
					defer s.Close()
					for _, t := range s.provider.Schemes().Schemes() {
						fmt.Fprintln(cCtx.App.Writer, t)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withSession opens the configured stores, runs fn and closes them.
func withSession(nArgs int, fn func(*cli.Context, *session) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		if cCtx.NArg() != nArgs {
			return fmt.Errorf("%s expects %d argument(s), got %d", cCtx.Command.Name, nArgs, cCtx.NArg())
		}
		s, err := newSession(cCtx, true)
		if err != nil {
			return err
		}
		err = fn(cCtx, s)
		if err != nil {
			s.log.Error("Command failed", "command", cCtx.Command.Name, "err", err)
		}
		return errors.Join(err, s.Close())
	}
}
