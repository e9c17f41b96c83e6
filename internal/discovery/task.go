package discovery

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const profilePrefix = "profile:"

// ParseTask parses one batch line: a site URL, or profile:<name>[:monthsBack].
func ParseTask(line string) (Task, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Task{}, fmt.Errorf("empty task")
	}
	rest, ok := strings.CutPrefix(line, profilePrefix)
	if !ok {
		return Task{Kind: TaskDiscover, URL: line}, nil
	}

	name, months, hasMonths := strings.Cut(rest, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, fmt.Errorf("profile task %q: missing profile name", line)
	}
	task := Task{Kind: TaskProfile, Profile: name}
	if hasMonths {
		n, err := strconv.Atoi(strings.TrimSpace(months))
		if err != nil {
			return Task{}, fmt.Errorf("profile task %q: parse months back: %w", line, err)
		}
		task.MonthsBack = &n
	}
	return task, nil
}

// ReadTasks parses a task file. Blank lines and lines starting with # are
// skipped; errors carry the 1-based line number.
func ReadTasks(r io.Reader) ([]Task, error) {
	var tasks []Task
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		task, err := ParseTask(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		tasks = append(tasks, task)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return tasks, nil
}
