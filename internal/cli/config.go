package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/msageha/relcycle/internal/model"
	"github.com/msageha/relcycle/internal/setup"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit workspace configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration value (dotted key, e.g. repo.url)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one configuration value and save",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(a.cfg)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	val, err := configLookup(a.cfg, args[0])
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(val)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	treePath, err := findTree()
	if err != nil {
		return err
	}
	cfg, err := setup.LoadConfig(treePath)
	if err != nil {
		return err
	}
	updated, err := configAssign(cfg, args[0], args[1])
	if err != nil {
		return err
	}
	if err := setup.SaveConfig(treePath, updated); err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", args[0], args[1])
	return nil
}

// configLookup resolves a dotted key against the config's YAML shape.
func configLookup(cfg model.Config, key string) (interface{}, error) {
	tree, err := configTree(cfg)
	if err != nil {
		return nil, err
	}
	var cur interface{} = tree
	for _, seg := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
		cur, ok = m[seg]
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
	}
	return cur, nil
}

// configAssign sets a dotted key to a scalar value, coercing the
// string form to the key's current type.
func configAssign(cfg model.Config, key, value string) (model.Config, error) {
	tree, err := configTree(cfg)
	if err != nil {
		return cfg, err
	}

	segs := strings.Split(key, ".")
	cur := tree
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			return cfg, fmt.Errorf("unknown config key: %s", key)
		}
		cur = next
	}
	leaf := segs[len(segs)-1]
	existing, ok := cur[leaf]
	if !ok {
		return cfg, fmt.Errorf("unknown config key: %s", key)
	}
	coerced, err := coerceValue(existing, value)
	if err != nil {
		return cfg, fmt.Errorf("set %s: %w", key, err)
	}
	cur[leaf] = coerced

	data, err := yaml.Marshal(tree)
	if err != nil {
		return cfg, err
	}
	var out model.Config
	if err := yaml.Unmarshal(data, &out); err != nil {
		return cfg, err
	}
	out.ApplyDefaults()
	return out, nil
}

func configTree(cfg model.Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func coerceValue(existing interface{}, value string) (interface{}, error) {
	switch existing.(type) {
	case bool:
		return strconv.ParseBool(value)
	case int:
		return strconv.Atoi(value)
	case []interface{}:
		// List values are comma-separated, e.g. test.command
		parts := strings.Split(value, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out, nil
	default:
		return value, nil
	}
}
