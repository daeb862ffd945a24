// Command vfsctl is a small operator CLI for introspecting a
// Subsystem: its name tree, registered devices, and wait-table
// occupancy, in the spirit of samples/mount_hello's "wire a sample
// driver, then do something with it from main" shape, but for
// inspection rather than mounting. Since a Subsystem only exists
// in-process, vfsctl builds a demo instance seeded with an
// echodev-backed /dev/echo rather than attaching to an external
// process.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kyrios-os/vfscore/samples/echodev"
	"github.com/kyrios-os/vfscore/vfscore"
	"github.com/kyrios-os/vfscore/vfsnode"
)

var rootCmd = &cobra.Command{
	Use:   "vfsctl",
	Short: "Inspect a vfscore Subsystem's tree, devices, and waiters.",
}

func main() {
	rootCmd.AddCommand(treeCmd, devicesCmd, waitersCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// demoSubsystem builds a Subsystem with a small fixed layout, enough
// for every subcommand to have something real to show.
func demoSubsystem() (*vfscore.Subsystem, error) {
	s := vfscore.New(vfscore.Config{})

	root := s.Tree.Root()
	devDir, err := s.Tree.Create(root, "dev", vfsnode.KindDir, 0755, 0)
	if err != nil {
		return nil, err
	}
	s.Tree.Release(devDir)

	dev, err := s.RegisterDevice(devDir, "echo", echodev.Capabilities)
	if err != nil {
		return nil, err
	}
	echodev.New(dev)

	return s, nil
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the name tree from root.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := demoSubsystem()
		if err != nil {
			return err
		}
		return printTree(s, s.Tree.Root(), "/", 0)
	},
}

func printTree(s *vfscore.Subsystem, id vfsnode.ID, name string, depth int) error {
	for i := 0; i < depth; i++ {
		fmt.Print("  ")
	}
	kind, _ := s.Tree.KindOf(id)
	fmt.Printf("%s [%s]\n", name, kind)

	if kind != vfsnode.KindDir {
		return nil
	}
	entries, release, err := s.Tree.OpenDir(id)
	if err != nil {
		return err
	}
	defer release()
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if err := printTree(s, e.ID, e.Name, depth+1); err != nil {
			return err
		}
	}
	return nil
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered devices.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := demoSubsystem()
		if err != nil {
			return err
		}
		for _, name := range s.DeviceNames() {
			fmt.Println(name)
		}
		return nil
	},
}

var waitersCmd = &cobra.Command{
	Use:   "waiters",
	Short: "List threads currently blocked in the wait table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := demoSubsystem()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "THREAD\tEVENT\tOBJECT")
		for _, waiter := range s.Wait.Waiters() {
			fmt.Fprintf(w, "%d\t%s\t%d\n", waiter.Thread, waiter.Kind, waiter.Object)
		}
		return w.Flush()
	},
}
