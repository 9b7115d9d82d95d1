// Package toolkit registers the built-in tools: filesystem primitives
// and the echo diagnostic. Every tool carries the security tags the
// policy engine gates on, so what the toolkit may do is decided
// entirely by the registry's policy, not by the tools themselves.
package toolkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/calder/toolgate/pkg/registry"
	"github.com/calder/toolgate/pkg/tool"
)

// Options configures built-in tool registration.
type Options struct {
	// MaxReadBytes caps read_file payloads. Zero means 10 MiB.
	MaxReadBytes int64
}

const defaultMaxReadBytes = 10 * 1024 * 1024

// RegisterCoreTools registers the built-in tool set.
func RegisterCoreTools(reg *registry.Registry, opts Options) error {
	if reg == nil {
		return errors.New("registry is required")
	}
	if opts.MaxReadBytes <= 0 {
		opts.MaxReadBytes = defaultMaxReadBytes
	}

	tools := []tool.Tool{
		readFileTool(opts),
		writeFileTool(),
		listDirectoryTool(),
		deleteFileTool(),
		createDirectoryTool(),
		fileExistsTool(),
		echoTool(),
	}

	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Metadata().Name, err)
		}
	}
	return nil
}

func readFileTool(opts Options) tool.Tool {
	return tool.NewBuilder("read_file").
		Description("Read the contents of a text file.").
		Category("filesystem").
		Tags("file_read").
		PathParam("path", "File to read", true).
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path := args["path"].(string)

			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%s is a directory", path)
			}
			if info.Size() > opts.MaxReadBytes {
				return nil, fmt.Errorf("file %s exceeds read limit (%d bytes)", path, opts.MaxReadBytes)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			return map[string]interface{}{
				"path":    path,
				"content": string(data),
				"size":    info.Size(),
			}, nil
		}).
		MustBuild()
}

func writeFileTool() tool.Tool {
	return tool.NewBuilder("write_file").
		Description("Write content to a file, creating parent directories as needed.").
		Category("filesystem").
		Tags("file_write").
		PathParam("path", "File to write", true).
		StringParam("content", "Content to write", true).
		BoolParam("append", "Append instead of overwrite", false).
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path := args["path"].(string)
			content := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create parent directories for %s: %w", path, err)
			}

			flags := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flags |= os.O_APPEND
			} else {
				flags |= os.O_TRUNC
			}

			f, err := os.OpenFile(path, flags, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			n, err := f.WriteString(content)
			if err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			return map[string]interface{}{
				"path":    path,
				"written": n,
				"append":  appendMode,
			}, nil
		}).
		MustBuild()
}

func listDirectoryTool() tool.Tool {
	return tool.NewBuilder("list_directory").
		Description("List the entries of a directory.").
		Category("filesystem").
		Tags("file_read").
		PathParam("path", "Directory to list", true).
		BoolParam("include_hidden", "Include dotfiles", false).
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path := args["path"].(string)
			includeHidden, _ := args["include_hidden"].(bool)

			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", path, err)
			}

			listing := make([]map[string]interface{}, 0, len(entries))
			for _, entry := range entries {
				name := entry.Name()
				if !includeHidden && len(name) > 0 && name[0] == '.' {
					continue
				}
				item := map[string]interface{}{
					"name":   name,
					"is_dir": entry.IsDir(),
				}
				if info, err := entry.Info(); err == nil {
					item["size"] = info.Size()
				}
				listing = append(listing, item)
			}
			sort.Slice(listing, func(i, j int) bool {
				return listing[i]["name"].(string) < listing[j]["name"].(string)
			})

			return map[string]interface{}{
				"path":    path,
				"entries": listing,
				"count":   len(listing),
			}, nil
		}).
		MustBuild()
}

func deleteFileTool() tool.Tool {
	return tool.NewBuilder("delete_file").
		Description("Delete a file. Refuses directories.").
		Category("filesystem").
		Tags("file_write").
		Dangerous().
		PathParam("path", "File to delete", true).
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path := args["path"].(string)

			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("%s is a directory; refusing to delete", path)
			}
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("delete %s: %w", path, err)
			}
			return map[string]interface{}{"path": path, "deleted": true}, nil
		}).
		MustBuild()
}

func createDirectoryTool() tool.Tool {
	return tool.NewBuilder("create_directory").
		Description("Create a directory, including missing parents.").
		Category("filesystem").
		Tags("file_write").
		PathParam("path", "Directory to create", true).
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path := args["path"].(string)
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", path, err)
			}
			return map[string]interface{}{"path": path, "created": true}, nil
		}).
		MustBuild()
}

func fileExistsTool() tool.Tool {
	return tool.NewBuilder("file_exists").
		Description("Check whether a path exists.").
		Category("filesystem").
		Tags("file_read").
		PathParam("path", "Path to check", true).
		Handler(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path := args["path"].(string)

			info, err := os.Stat(path)
			if err != nil {
				if os.IsNotExist(err) {
					return map[string]interface{}{"path": path, "exists": false}, nil
				}
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			return map[string]interface{}{
				"path":   path,
				"exists": true,
				"is_dir": info.IsDir(),
			}, nil
		}).
		MustBuild()
}
