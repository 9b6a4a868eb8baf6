package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newFmtCmd(g *globalOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "fmt [paths...]",
		Short: "Format stack declaration files",
		Long: `Formats .pkl, .yaml and .yml files to a canonical style.

By default, formats the stack file given with --file, or every declaration file in the
current directory. Use --check to verify formatting without making changes.

Formatting rules:
  - YAML is re-indented with 2 spaces, comments are kept
  - Trailing newline
  - Trim trailing whitespace from lines
  - At most one blank line in a row`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				if g.file != "" {
					paths = []string{g.file}
				} else {
					paths = []string{"."}
				}
			}
			return runFmt(cmd, paths, check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Check formatting without making changes (exit 1 if not formatted)")
	return cmd
}

func runFmt(cmd *cobra.Command, paths []string, check bool) error {
	out := cmd.OutOrStdout()

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			found, err := findStackFiles(p)
			if err != nil {
				return err
			}
			files = append(files, found...)
		} else {
			files = append(files, p)
		}
	}

	if len(files) == 0 {
		fmt.Fprintln(out, "No declaration files found.")
		return nil
	}

	unformatted := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		formatted, err := formatFile(file, data)
		if err != nil {
			return fmt.Errorf("failed to format %s: %w", file, err)
		}
		if bytes.Equal(data, formatted) {
			continue
		}

		unformatted++
		if check {
			fmt.Fprintf(out, "%s: not formatted\n", file)
			continue
		}
		if err := os.WriteFile(file, formatted, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
		fmt.Fprintf(out, "%s: formatted\n", file)
	}

	if check && unformatted > 0 {
		return fmt.Errorf("%d file(s) not formatted", unformatted)
	}
	if unformatted == 0 {
		fmt.Fprintf(out, "All %d file(s) are properly formatted.\n", len(files))
	} else {
		fmt.Fprintf(out, "Formatted %d file(s).\n", unformatted)
	}
	return nil
}

func isStackFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl", ".yaml", ".yml":
		return true
	}
	return false
}

func findStackFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isStackFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func formatFile(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML(data)
	default:
		return []byte(formatText(string(data))), nil
	}
}

// formatYAML re-encodes every document of data through a node tree, which keeps
// comments and key order.
func formatYAML(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for {
		var doc yaml.Node
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if err := enc.Encode(&doc); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(formatText(buf.String())), nil
}

// formatText applies the whitespace rules shared by every format.
func formatText(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	result := strings.Join(lines, "\n")
	result = strings.TrimRight(result, "\n") + "\n"

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	return result
}
