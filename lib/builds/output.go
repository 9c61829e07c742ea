package builds

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	// buildkit plain progress: "#5 [2/4] RUN ...", "#5 0.412 text", "#5 ERROR: ..."
	vertexLine    = regexp.MustCompile(`^#(\d+) (.*)$`)
	vertexLogLine = regexp.MustCompile(`^\d+\.\d+(?: (.*))?$`)
	vertexIndex   = regexp.MustCompile(`^\[(?:[^\]\s]+ )?(\d+)/(\d+)\]\s*(.*)$`)

	// buildah "STEP 2/4: RUN ..." and the classic builder "Step 2/4 : RUN ..."
	sectionLine = regexp.MustCompile(`^(?i:step) (\d+)/(\d+) ?: (.*)$`)
	buildahFail = regexp.MustCompile(`building at STEP "(.*)"`)
)

// vertex is one buildkit vertex or one buildah/classic-builder step.
type vertex struct {
	name   string
	lines  []string
	errMsg string
	failed bool
}

// instruction returns the Dockerfile instruction text of the vertex with
// any "[stage i/n]" prefix removed, and the 1-based vertex index when known.
func (v *vertex) instruction() (string, int) {
	if m := vertexIndex.FindStringSubmatch(v.name); m != nil {
		return m[3], atoi(m[1])
	}
	return v.name, 0
}

func (v *vertex) diagnostic() string {
	if len(v.lines) > 0 {
		return strings.Join(v.lines, "\n")
	}
	return v.errMsg
}

// buildOutput is engine output split into vertices in first-seen order.
type buildOutput struct {
	vertices []*vertex
	trailer  []string
}

func parseBuildOutput(output string) *buildOutput {
	out := &buildOutput{}
	byID := map[string]*vertex{}
	var section *vertex

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := vertexLine.FindStringSubmatch(line); m != nil {
			v, ok := byID[m[1]]
			if !ok {
				v = &vertex{name: m[2]}
				byID[m[1]] = v
				out.vertices = append(out.vertices, v)
				continue
			}
			rest := m[2]
			switch {
			case strings.HasPrefix(rest, "ERROR: "):
				v.failed = true
				v.errMsg = strings.TrimPrefix(rest, "ERROR: ")
			case vertexLogLine.MatchString(rest):
				v.lines = append(v.lines, vertexLogLine.FindStringSubmatch(rest)[1])
			}
			continue
		}

		if m := sectionLine.FindStringSubmatch(line); m != nil {
			section = &vertex{name: "[" + m[1] + "/" + m[2] + "] " + m[3]}
			out.vertices = append(out.vertices, section)
			continue
		}
		if m := buildahFail.FindStringSubmatch(line); m != nil {
			for _, v := range out.vertices {
				if ins, _ := v.instruction(); normalize(ins) == normalize(m[1]) {
					v.failed = true
					v.errMsg = line
				}
			}
			out.trailer = append(out.trailer, line)
			continue
		}
		if section != nil && !strings.HasPrefix(line, "--> ") && !strings.HasPrefix(line, "COMMIT") {
			section.lines = append(section.lines, line)
			continue
		}
		out.trailer = append(out.trailer, line)
	}
	return out
}

// failed returns the failing vertex. Output without buildkit error markers
// blames the last step that started.
func (o *buildOutput) failed() *vertex {
	for _, v := range o.vertices {
		if v.failed {
			return v
		}
	}
	for i := len(o.vertices) - 1; i >= 0; i-- {
		if _, idx := o.vertices[i].instruction(); idx > 0 {
			return o.vertices[i]
		}
	}
	return nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// stepWriter reports vertex headers from engine output as it is written.
type stepWriter struct {
	mu     sync.Mutex
	buf    []byte
	onLine func(name string)
}

func newStepWriter(onLine func(name string)) *stepWriter {
	return &stepWriter{onLine: onLine}
}

func (w *stepWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		if m := vertexLine.FindStringSubmatch(line); m != nil && vertexIndex.MatchString(m[2]) {
			w.onLine(m[2])
		} else if m := sectionLine.FindStringSubmatch(line); m != nil {
			w.onLine("[" + m[1] + "/" + m[2] + "] " + m[3])
		}
	}
	return len(p), nil
}
