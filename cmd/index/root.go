package index

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/rbkv/cmd/util"
	"github.com/ValentinKolb/rbkv/lib/db/engines/rbidx"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cli")

var (
	idx *rbidx.Index

	// IndexCommands represents the index command group
	IndexCommands = &cobra.Command{
		Use:   "index",
		Short: "Work with index snapshot files",
		Long: `Work with index snapshot files offline. The snapshot given with --file is
loaded before a command runs, commands that change the index write it back.
A missing file is treated as an empty index.`,
		PersistentPreRunE:  openIndex,
		PersistentPostRunE: closeIndex,
	}
)

func init() {
	key := "file"
	IndexCommands.PersistentFlags().String(key, "", util.WrapString("Path of the snapshot file (as written by rbkv serve to <snapshot-dir>/<namespace>.rbidx)"))

	key = "set"
	IndexCommands.PersistentFlags().String(key, "", util.WrapString("Set name mixed into the key digests. Defaults to the set of the snapshot file, or 'default' for a new file"))

	key = "vlock-size"
	IndexCommands.PersistentFlags().Int(key, 0, util.WrapString("Number of value locks of the index (0 = derived from GOMAXPROCS)"))

	// Add subcommands
	IndexCommands.AddCommand(setCmd)
	IndexCommands.AddCommand(getCmd)
	IndexCommands.AddCommand(delCmd)
	IndexCommands.AddCommand(hasCmd)
	IndexCommands.AddCommand(dumpCmd)
	IndexCommands.AddCommand(checkCmd)
	IndexCommands.AddCommand(perfTestCmd)
}

// openIndex creates the index and loads the snapshot file if it exists
func openIndex(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	path := viper.GetString("file")
	set := viper.GetString("set")

	var snapshot *os.File
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			snapshot = f
			defer snapshot.Close()
		case !errors.Is(err, os.ErrNotExist):
			return err
		}
	}

	// the digests of a snapshot can only be used with its own set name
	if snapshot != nil && set == "" {
		name, err := rbidx.SnapshotSetName(snapshot)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		set = name
		if _, err := snapshot.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	idx = rbidx.NewRBIdx(&rbidx.DBOptions{
		SetName:       set,
		LockTableSize: viper.GetInt("vlock-size"),
	})

	if snapshot != nil {
		if err := idx.Load(snapshot); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		Logger.Debugf("loaded %s (set %q)", path, idx.SetName())
	}
	return nil
}

func closeIndex(_ *cobra.Command, _ []string) error {
	if idx == nil {
		return nil
	}
	return idx.Close()
}

// requireFile returns the path of the snapshot file or an error if none is set
func requireFile() (string, error) {
	path := viper.GetString("file")
	if path == "" {
		return "", errors.New("no snapshot file given (use --file)")
	}
	return path, nil
}

// saveIndex writes the index back to the snapshot file, replacing it
// atomically
func saveIndex() error {
	path, err := requireFile()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := idx.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
