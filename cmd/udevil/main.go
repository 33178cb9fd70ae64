// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2020, Control Command Inc. All rights reserved.
// Copyright (c) 2018-2021, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Command udevil is the runnable entry point for the mount-orchestration
// core. spec.md §1 places the argument parser and help text out of scope
// for the core itself; this command supplies a thin cobra-based one so the
// core is exercisable end to end, in the shape of the teacher's own
// apptainerCmd/ExecuteApptainer split (Init registers flags and commands,
// Execute runs a cancellable root command and maps the result to an exit
// code).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"go-udevil/internal/classify"
	"go-udevil/internal/deviceinfo"
	"go-udevil/internal/mnterr"
	"go-udevil/internal/mounttable"
	"go-udevil/internal/orchestrator"
	"go-udevil/internal/policy"
	"go-udevil/internal/privilege"
	"go-udevil/internal/sysutil"
	"go-udevil/internal/ulog"
)

var (
	debugFlag   bool
	verboseFlag bool
	quietFlag   bool
	silentFlag  bool
	nocolorFlag bool
	configFlag  string
)

func main() {
	root := newRootCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	interrupted := false
	go func() {
		select {
		case <-sig:
			interrupted = true
			cancel()
		case <-ctx.Done():
		}
	}()

	err := root.ExecuteContext(ctx)
	signal.Stop(sig)

	if interrupted {
		os.Exit(130)
	}
	if err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a core error to the 0/1/2/130 contract (§6); any error
// that never passed through mnterr (a cobra usage error) is exit 1.
func exitCodeFor(err error) int {
	if mErr, ok := mnterr.As(err); ok {
		return mErr.Kind.ExitCode()
	}
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "udevil",
		Short:         "Mount and unmount devices, network shares, and disk images under policy control",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel()
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "print debugging information (highest verbosity)")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "print additional information")
	root.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress normal output")
	root.PersistentFlags().BoolVarP(&silentFlag, "silent", "s", false, "only print errors")
	root.PersistentFlags().BoolVar(&nocolorFlag, "nocolor", false, "print without color output")
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", defaultConfigFile, "policy configuration file")

	root.AddCommand(newMountCmd(), newUnmountCmd())
	return root
}

func setLogLevel() {
	level := 1
	switch {
	case debugFlag:
		level = int(ulog.DebugLevel)
	case verboseFlag:
		level = int(ulog.VerboseLevel)
	case quietFlag:
		level = -1
	case silentFlag:
		level = -3
	}

	color := !nocolorFlag && term.IsTerminal(2)
	ulog.SetLevel(level, color)
}

func newMountCmd() *cobra.Command {
	var (
		fstype     string
		options    string
		mountPoint string
	)
	cmd := &cobra.Command{
		Use:   "mount <device|file|url>",
		Short: "Mount a device, regular file, or network share",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			req := classify.Request{
				Operation:      classify.Mount,
				Target:         target,
				MountPoint:     mountPoint,
				FstypeOverride: fstype,
				Options:        options,
			}
			return runRequest(cmd, req)
		},
	}
	cmd.Flags().StringVarP(&fstype, "types", "t", "", "filesystem type override")
	cmd.Flags().StringVarP(&options, "options", "o", "", "comma-separated mount options")
	cmd.Flags().StringVarP(&mountPoint, "mount-point", "p", "", "explicit mount point")
	return cmd
}

func newUnmountCmd() *cobra.Command {
	var force, lazy bool
	cmd := &cobra.Command{
		Use:     "unmount <device|file|mount-point|url>",
		Aliases: []string{"umount"},
		Short:   "Unmount a device, regular file, mount point, or network share",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := classify.Request{
				Operation: classify.Unmount,
				Target:    args[0],
				Force:     force,
				Lazy:      lazy,
			}
			return runRequest(cmd, req)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "force unmount, even if busy")
	cmd.Flags().BoolVarP(&lazy, "lazy", "l", false, "lazy unmount: detach now, clean up when no longer busy")
	return cmd
}

// runRequest wires one invocation's collaborators and runs the orchestrator
// end to end. Each call builds its own Orchestrator, matching §5's
// "single-threaded, single-process per invocation" lifetime.
func runRequest(cmd *cobra.Command, req classify.Request) error {
	ctx := cmd.Context()

	gate, err := privilege.Open()
	if err != nil {
		return err
	}

	username, err := usernameForUID(gate.RealUID())
	if err != nil {
		return err
	}

	kv, err := loadDirectives(configFlag)
	if err != nil {
		return mnterr.Wrap(mnterr.ResourceError, err, "reading configuration file %s", configFlag)
	}
	expandCtx := policy.ExpandContext{
		User:             username,
		UID:              gate.RealUID(),
		GID:              gate.RealGID(),
		KnownFilesystems: deviceinfo.KnownFilesystems(),
	}
	snap, err := policy.Load(kv, expandCtx)
	if err != nil {
		return err
	}

	table, err := mounttable.Read("/proc/self/mountinfo")
	if err != nil {
		return err
	}

	o := &orchestrator.Orchestrator{
		Exec:         sysutil.New(gate),
		Gate:         gate,
		Policy:       snap,
		DeviceInfo:   &deviceinfo.SysfsLookup{Table: table},
		Table:        table,
		Groups:       lookupGroups,
		HasCurlftpfs: hasCurlftpfs,
		Username:     username,
		UID:          gate.RealUID(),
		GID:          gate.RealGID(),
		CommandLine:  commandLine(),
	}

	res, err := o.Run(ctx, req)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	if req.Operation == classify.Unmount {
		fmt.Printf("Unmounted %s\n", res.Source)
	} else {
		fmt.Printf("Mounted %s at %s\n", res.Source, res.MountPoint)
	}
	return nil
}

func usernameForUID(uid int) (string, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", mnterr.Wrap(mnterr.ResourceError, err, "looking up caller UID %d", uid)
	}
	return u.Username, nil
}

// hasCurlftpfs reports whether a curlftpfs binary is reachable on PATH,
// implementing netshare.HasCurlftpfs (§4's "ftp -> curlftpfs if that
// program is found on PATH else ftpfs").
func hasCurlftpfs() bool {
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		if st, err := os.Stat(filepath.Join(dir, "curlftpfs")); err == nil && !st.IsDir() {
			return true
		}
	}
	return false
}

// commandLine reproduces the invocation verbatim for the hook programs
// (§6 "<original-command-line>").
func commandLine() string {
	line := ""
	for i, a := range os.Args {
		if i > 0 {
			line += " "
		}
		line += a
	}
	return line
}
