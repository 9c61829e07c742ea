package definitions

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"
)

var (
	importLine     = regexp.MustCompile(`^\s*import\s+(.+?)\s*(#.*)?$`)
	fromImportLine = regexp.MustCompile(`^\s*from\s+(\.*[A-Za-z_][\w.]*|\.+)\s+import\s`)
)

// distributions maps import names to the distribution that provides them.
// Dotted keys are matched before their first component.
var distributions = map[string]string{
	"discord":              "discord.py",
	"googleapiclient":      "google-api-python-client",
	"google_auth_oauthlib": "google-auth-oauthlib",
	"google.oauth2":        "google-auth",
	"google.auth":          "google-auth",
	"dotenv":               "python-dotenv",
	"flask":                "flask",
	"werkzeug":             "werkzeug",
	"yaml":                 "PyYAML",
	"bs4":                  "beautifulsoup4",
	"PIL":                  "Pillow",
	"dateutil":             "python-dateutil",
	"sklearn":              "scikit-learn",
	"cv2":                  "opencv-python",
}

// stdlib lists the top-level standard library modules that commonly show
// up in scripts.
var stdlib = lo.SliceToMap(strings.Fields(`
	__future__ abc argparse array ast asyncio base64 binascii bisect builtins
	bz2 calendar collections concurrent configparser contextlib copy csv
	ctypes dataclasses datetime decimal difflib email enum errno fcntl
	fnmatch fractions functools gc getpass gettext glob gzip hashlib heapq
	hmac html http imaplib importlib inspect io ipaddress itertools json
	locale logging lzma math mimetypes multiprocessing netrc numbers operator
	os pathlib pickle platform pprint queue random re sched secrets select
	selectors shelve shlex shutil signal smtplib socket socketserver sqlite3
	ssl stat statistics string struct subprocess sys sysconfig tarfile
	tempfile textwrap threading time timeit tomllib traceback types typing
	unicodedata unittest urllib uuid warnings weakref xml zipfile zlib
	zoneinfo`), func(m string) (string, struct{}) { return m, struct{}{} })

var skipDirs = map[string]bool{
	".git": true, ".venv": true, "venv": true, "__pycache__": true,
	"node_modules": true, ".tox": true, "site-packages": true,
}

// ScanPython walks dir for *.py files and returns the distributions their
// imports need, sorted. Standard library modules and modules that live in
// dir itself are left out; unknown third-party imports are returned under
// their import name.
func ScanPython(dir string) ([]string, error) {
	local := map[string]bool{}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			if path != dir {
				local[d.Name()] = true
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".py") {
			local[strings.TrimSuffix(d.Name(), ".py")] = true
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	found := map[string]bool{}
	for _, path := range files {
		modules, err := scanImports(path)
		if err != nil {
			return nil, err
		}
		for _, mod := range modules {
			if dist, ok := distribution(mod, local); ok {
				found[dist] = true
			}
		}
	}

	out := lo.Keys(found)
	slices.Sort(out)
	return out, nil
}

func distribution(module string, local map[string]bool) (string, bool) {
	if strings.HasPrefix(module, ".") {
		return "", false
	}
	top, _, _ := strings.Cut(module, ".")
	if _, ok := stdlib[top]; ok || local[top] {
		return "", false
	}
	for prefix, dist := range distributions {
		if strings.Contains(prefix, ".") && (module == prefix || strings.HasPrefix(module, prefix+".")) {
			return dist, true
		}
	}
	if dist, ok := distributions[top]; ok {
		return dist, true
	}
	return top, true
}

// scanImports returns the modules imported by one file, including imports
// nested in functions. Lines that start inside a triple-quoted string are
// skipped.
func scanImports(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var modules []string
	var open string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		inString := open != ""
		open = closeQuotes(line, open)
		if inString {
			continue
		}
		if m := fromImportLine.FindStringSubmatch(line); m != nil {
			modules = append(modules, m[1])
			continue
		}
		if m := importLine.FindStringSubmatch(line); m != nil {
			for _, part := range strings.Split(m[1], ",") {
				fields := strings.Fields(part)
				if len(fields) > 0 {
					modules = append(modules, fields[0])
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return modules, nil
}

// closeQuotes returns the triple-quote delimiter still open at the end of
// line, given the one open at its start.
func closeQuotes(line, open string) string {
	for i := 0; i < len(line); i++ {
		if open != "" {
			switch {
			case line[i] == '\\':
				i++
			case strings.HasPrefix(line[i:], open):
				i += len(open) - 1
				open = ""
			}
			continue
		}
		switch c := line[i]; c {
		case '#':
			return ""
		case '"', '\'':
			if q := strings.Repeat(string(c), 3); strings.HasPrefix(line[i:], q) {
				open = q
				i += 2
				continue
			}
			// single-quoted string; skip to its end on this line
			for i++; i < len(line) && line[i] != c; i++ {
				if line[i] == '\\' {
					i++
				}
			}
		}
	}
	return open
}
