package index

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ValentinKolb/rbkv/lib/digest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key and saves the snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := requireFile(); err != nil {
				return err
			}
			idx.Set(args[0], []byte(args[1]))
			if err := saveIndex(); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if value, ok := idx.Get(args[0]); ok {
				fmt.Println(string(value))
			} else {
				fmt.Println("key not found")
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key and saves the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := requireFile(); err != nil {
				return err
			}
			if !idx.Delete(args[0]) {
				fmt.Println("key not found")
				return nil
			}
			if err := saveIndex(); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if idx.Has(args[0]) {
				fmt.Println("key exists")
			} else {
				fmt.Println("key not found")
			}
			return nil
		},
	}
	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Prints all entries in digest order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON := viper.GetBool("json")
			enc := json.NewEncoder(os.Stdout)

			var err error
			idx.Scan(func(key digest.Digest, value []byte) bool {
				if asJSON {
					err = enc.Encode(struct {
						Digest string `json:"digest"`
						Value  string `json:"value"`
					}{key.String(), string(value)})
				} else {
					_, err = fmt.Printf("%s  %q\n", key, value)
				}
				return err == nil
			})
			return err
		},
	}
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Verifies the red-black invariants of the index and prints statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := idx.Verify(); err != nil {
				return fmt.Errorf("index is corrupt: %w", err)
			}

			info := idx.GetInfo()
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println("index is valid")
			fmt.Println(string(out))
			return nil
		},
	}
)

func init() {
	dumpCmd.Flags().Bool("json", false, "Print one JSON object per entry")
}
