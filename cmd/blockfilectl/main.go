// Command blockfilectl is a small manual-exploration tool for a store file:
// open it, append a chunk, read one back, inspect or write the header, or
// truncate to a position. It is not part of the module's public API.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"blockfile/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "blockfilectl",
		Short: "inspect and manipulate block-framed store files",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(appendCmd(), readCmd(), headerCmd(), truncateCmd(), bytesCmd())
	return root
}

func openExisting(path string, create bool) (*store.Store, error) {
	fs := afero.NewOsFs()
	if create {
		return store.Open(fs, path, store.Create())
	}
	return store.Open(fs, path)
}

func appendCmd() *cobra.Command {
	var md5sum bool
	var create bool

	cmd := &cobra.Command{
		Use:   "append <file> <payload>",
		Short: "append a chunk and print the position it was written at",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openExisting(args[0], create)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			var pos int64
			var written int
			if md5sum {
				pos, written, err = s.AppendChunkMD5(ctx, []byte(args[1]))
			} else {
				pos, written, err = s.AppendChunk(ctx, []byte(args[1]))
			}
			if err != nil {
				return err
			}
			fmt.Printf("pos=%d written=%d\n", pos, written)
			return nil
		},
	}
	cmd.Flags().BoolVar(&md5sum, "md5", false, "embed an MD5 digest with the chunk")
	cmd.Flags().BoolVar(&create, "create", false, "create the file if it does not exist")
	return cmd
}

func readCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <file> <pos>",
		Short: "read the chunk starting at pos",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("blockfilectl: bad position: %w", err)
			}

			s, err := openExisting(args[0], false)
			if err != nil {
				return err
			}
			defer s.Close()

			payload, sum, err := s.PreadChunk(context.Background(), pos)
			if err != nil {
				return err
			}
			if sum != nil {
				fmt.Printf("md5=%s\n", hex.EncodeToString(sum))
			}
			fmt.Printf("%s\n", payload)
			return nil
		},
	}
	return cmd
}

func headerCmd() *cobra.Command {
	var write string
	var create bool

	cmd := &cobra.Command{
		Use:   "header <file>",
		Short: "read the most recent header, or write a new one with --write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openExisting(args[0], create)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			if write != "" {
				if err := s.WriteHeader(ctx, []byte(write)); err != nil {
					return err
				}
				fmt.Println("ok")
				return nil
			}

			payload, err := s.ReadHeader(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", payload)
			return nil
		},
	}
	cmd.Flags().StringVar(&write, "write", "", "write a new header instead of reading")
	cmd.Flags().BoolVar(&create, "create", false, "create the file if it does not exist")
	return cmd
}

func truncateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "truncate <file> <pos>",
		Short: "truncate the file to pos",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("blockfilectl: bad position: %w", err)
			}

			s, err := openExisting(args[0], false)
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Truncate(pos)
		},
	}
	return cmd
}

func bytesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bytes <file>",
		Short: "print the file's current physical size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openExisting(args[0], false)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.Bytes()
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
	return cmd
}
