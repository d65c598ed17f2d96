package executor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// DefaultChangesFile is the change list written by CI before a deploy.
const DefaultChangesFile = "changed_pipelines.txt"

var pipelineSuffixes = []string{".orch.yaml", ".tran.yaml"}

// PipelineName derives a pipeline name from a changed file path.
func PipelineName(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ""
	}
	name := path.Base(strings.ReplaceAll(trimmed, "\\", "/"))
	for _, suffix := range pipelineSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// ReadChangedPipelines reads a change list file. A missing file means no changes.
func ReadChangedPipelines(file string) ([]string, error) {
	f, err := os.Open(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open change list: %w", err)
	}
	defer f.Close()
	return ParseChangedPipelines(f)
}

// ParseChangedPipelines returns unique pipeline names in first-seen order.
func ParseChangedPipelines(r io.Reader) ([]string, error) {
	var (
		names []string
		seen  = map[string]struct{}{}
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := PipelineName(scanner.Text())
		if name == "" || name == "." || name == "/" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read change list: %w", err)
	}
	return names, nil
}
