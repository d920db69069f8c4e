// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

/*
sesame encrypts files and directories with a password.

The given files and/or folders are stored in a tar archive which is
encrypted in chunks with AES256-GCM and/or ChaCha20-Poly1305, or handed to
an age stream. Keys are derived with scrypt or argon2id. Everything happens
in RAM; the only file ever written next to the output is a temporary one
that is renamed into place when complete.

	sesame e [-f] [-p PASSWORD] [OUTPUT] INPUT...
	sesame d [-f] [-p PASSWORD] [OUTPUT] CONTAINER

An existing output is never replaced without asking. Without an answer
within five seconds sesame gives up and exits with status 4; -f skips the
question.

Exit status: 0 success, 1 I/O failure, 2 usage error, 3 missing input,
4 overwrite aborted, 5 decryption failed, 6 archive corrupt.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/w33zl3p00tch/sesame/config"
	"github.com/w33zl3p00tch/sesame/guard"
	"github.com/w33zl3p00tch/sesame/pipeline"
	"github.com/w33zl3p00tch/sesame/prompt"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// options are filled by the flags.
type options struct {
	force      bool
	password   string
	quiet      bool
	configPath string
	mode       string
	kdf        string
	strength   string
	chunkSize  int64 // KiB
}

// app is one invocation.
type app struct {
	opts   options
	flags  *pflag.FlagSet // flags of the command that ran
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	ran    bool
}

// run executes the command line and returns the exit status.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	if args == nil {
		// cobra falls back to os.Args for nil.
		args = []string{}
	}
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return pipeline.ExitOK
	}
	var pe *pipeline.Error
	if !a.ran && !errors.As(err, &pe) {
		// Everything cobra rejects is a malformed invocation.
		err = &pipeline.Error{Kind: pipeline.ErrUsage, Err: err}
	}
	color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
	if errors.Is(err, pipeline.ErrUsage) {
		fmt.Fprintf(stderr, "Run '%s --help' for usage.\n", root.Name())
	}
	return pipeline.ExitCode(err)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sesame",
		Short:         "Encrypt and decrypt files and directories with a password",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return pipeline.Usagef("unknown command %q", args[0])
			}
			return pipeline.Usagef("missing command, use e or d")
		},
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&a.opts.force, "force", "f", false, "overwrite existing output without asking")
	pf.StringVarP(&a.opts.password, "password", "p", "", "the password (asked for interactively if omitted)")
	pf.BoolVarP(&a.opts.quiet, "quiet", "q", false, "suppress progress output")
	pf.StringVar(&a.opts.configPath, "config", "", "config file (default $"+config.EnvVar+" or "+config.DefaultPath()+")")

	enc := &cobra.Command{
		Use:     "e [OUTPUT] INPUT...",
		Aliases: []string{"encrypt"},
		Short:   "Encrypt files and directories into one container",
		Long: `Encrypt packs every INPUT into one container. With a single INPUT the
container defaults to INPUT.sesame; with several, OUTPUT is required.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return pipeline.Usagef("e needs at least one input")
			}
			return nil
		},
		RunE: a.encrypt,
	}
	ef := enc.Flags()
	ef.StringVarP(&a.opts.mode, "mode", "m", "", "cipher: aes, chacha20, aes-chacha20, chacha20-aes or age")
	ef.StringVar(&a.opts.kdf, "kdf", "", "key derivation: scrypt or argon2id")
	ef.StringVar(&a.opts.strength, "strength", "", "key derivation strength: low, default, medium or high")
	ef.Int64Var(&a.opts.chunkSize, "chunksize", 0, "maximum chunk size in KiB")

	dec := &cobra.Command{
		Use:     "d [OUTPUT] CONTAINER",
		Aliases: []string{"decrypt"},
		Short:   "Decrypt a container",
		Long: `Decrypt restores the content of CONTAINER. OUTPUT defaults to CONTAINER
without its .sesame suffix. A container of several entries is restored
next to it, or into OUTPUT.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return pipeline.Usagef("d takes a container and an optional output, got %d arguments", len(args))
			}
			return nil
		},
		RunE: a.decrypt,
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &pipeline.Error{Kind: pipeline.ErrUsage, Err: err}
	})
	root.AddCommand(enc, dec)
	return root
}

// setup resolves the configuration and builds the pipeline.
func (a *app) setup(cmd *cobra.Command) (*pipeline.Pipeline, config.Config, error) {
	a.ran = true
	a.flags = cmd.Flags()

	cfg, err := config.Resolve(a.opts.configPath, os.Getenv)
	if err != nil {
		return nil, cfg, &pipeline.Error{Kind: pipeline.ErrUsage, Err: err}
	}
	a.override(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, cfg, &pipeline.Error{Kind: pipeline.ErrUsage, Err: err}
	}

	pr := prompt.New(a.stdin, a.stderr)
	creds := func(ctx context.Context, verify bool) ([]byte, error) {
		return pr.Password(ctx, verify)
	}
	if a.flags.Changed("password") {
		creds = pipeline.StaticPassword([]byte(a.opts.password))
	}
	return &pipeline.Pipeline{
		Guard: &guard.Guard{
			Prompter: pr,
			Stdout:   a.stdout,
			Stderr:   a.stderr,
			Timeout:  cfg.ConfirmTimeout,
			Force:    a.opts.force,
		},
		Credentials: creds,
		Stdout:      a.stdout,
		Stderr:      a.stderr,
		Quiet:       cfg.Quiet,
	}, cfg, nil
}

// override applies the flags that were given on top of cfg.
func (a *app) override(cfg *config.Config) {
	changed := func(name string) bool {
		f := a.flags.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("mode") {
		cfg.Mode = a.opts.mode
	}
	if changed("kdf") {
		cfg.KDF = a.opts.kdf
	}
	if changed("strength") {
		cfg.Strength = a.opts.strength
	}
	if changed("chunksize") {
		cfg.ChunkSize = a.opts.chunkSize
	}
	if changed("quiet") {
		cfg.Quiet = a.opts.quiet
	}
}

func (a *app) encrypt(cmd *cobra.Command, args []string) error {
	p, cfg, err := a.setup(cmd)
	if err != nil {
		return err
	}
	params, err := cfg.Params()
	if err != nil {
		return &pipeline.Error{Kind: pipeline.ErrUsage, Err: err}
	}
	paths, err := absolute(args)
	if err != nil {
		return err
	}

	req := pipeline.EncryptRequest{Inputs: paths, Params: params}
	if len(paths) > 1 {
		req.Output, req.Inputs = paths[0], paths[1:]
	}
	_, err = p.Encrypt(cmd.Context(), req)
	return err
}

func (a *app) decrypt(cmd *cobra.Command, args []string) error {
	p, _, err := a.setup(cmd)
	if err != nil {
		return err
	}
	paths, err := absolute(args)
	if err != nil {
		return err
	}

	req := pipeline.DecryptRequest{Container: paths[0]}
	if len(paths) == 2 {
		req.Output, req.Container = paths[0], paths[1]
	}
	_, err = p.Decrypt(cmd.Context(), req)
	return err
}

// absolute resolves every path once, so nothing below depends on the
// working directory.
func absolute(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		if p == "" {
			return nil, pipeline.Usagef("empty path")
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		out[i] = abs
	}
	return out, nil
}
