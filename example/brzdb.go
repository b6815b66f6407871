// brzdb.go -- build, verify and query a BRZ-backed constant DB
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// brzdb.go is an example of using brz.StoreWriter/brz.StoreReader: build a
// constant key/value DB out of whitespace-delimited text files, verify it,
// or look up individual keys.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencoff/go-brz"
	flag "github.com/opencoff/pflag"
)

type record struct {
	key []byte
	val []byte
}

func main() {
	var load float64
	var memMB int
	var verify bool
	var search string
	var cacheSize int

	usage := fmt.Sprintf("%s [options] OUTPUT [INPUT ...]", os.Args[0])

	flag.Float64VarP(&load, "load", "l", 1.0, "Use `C` as the BMZ8 table load factor")
	flag.IntVarP(&memMB, "memory", "m", 64, "Use `N` MiB as the partitioner memory budget")
	flag.BoolVarP(&verify, "verify", "V", false, "Verify a constant DB")
	flag.StringVarP(&search, "find", "f", "", "Look up `KEY` in an existing DB and exit")
	flag.IntVarP(&cacheSize, "cache", "c", 128, "Cache upto `N` hot records")
	flag.Usage = func() {
		fmt.Printf("brzdb - build a constant key/value DB using a BRZ minimal perfect hash\nUsage: %s\n", usage)
		flag.PrintDefaults()
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		die("No output file name!\nUsage: %s\n", usage)
	}

	fn := args[0]
	args = args[1:]

	if verify || len(search) > 0 {
		db, err := brz.OpenStore(fn, cacheSize)
		if err != nil {
			die("can't read %s: %s", fn, err)
		}
		defer db.Close()

		fmt.Printf("%s: %d records\n", fn, db.Len())
		if len(search) > 0 {
			val, err := db.Find([]byte(search))
			if err != nil {
				die("%s: not found: %s", search, err)
			}
			fmt.Printf("%s -> %s\n", search, val)
		}
		return
	}

	w := brz.NewStoreWriter()

	var n uint64
	var err error
	if len(args) > 0 {
		for _, f := range args {
			var m uint64
			m, err = addTextFile(w, f, " \t")
			if err != nil {
				warn("can't add %s: %s", f, err)
				continue
			}
			n += m
			fmt.Printf("+ %s: %d records\n", f, m)
		}
	} else {
		n, err = addTextStream(w, os.Stdin, " \t")
		if err != nil {
			die("can't add STDIN: %s", err)
		}
		fmt.Printf("+ <STDIN>: %d records\n", n)
	}

	cfg := brz.DefaultConfig()
	cfg.LoadFactor = load
	cfg.MemoryBudget = uint64(memMB) << 20
	cfg.Verbosity = true

	if err := w.Freeze(context.Background(), fn, cfg); err != nil {
		die("can't write db %s: %s", fn, err)
	}
}

// addTextFile adds contents from text file 'fn' where key and value are
// separated by one of the characters in 'delim'. Empty lines and comments
// are skipped.
func addTextFile(w *brz.StoreWriter, fn string, delim string) (uint64, error) {
	fd, err := os.Open(fn)
	if err != nil {
		return 0, err
	}
	defer fd.Close()

	return addTextStream(w, fd, delim)
}

// addTextStream adds contents from a text stream where key and value are
// separated by one of the characters in 'delim'.
func addTextStream(w *brz.StoreWriter, fd io.Reader, delim string) (uint64, error) {
	sc := bufio.NewScanner(bufio.NewReader(fd))
	ch := make(chan *record, 16)

	go func() {
		for sc.Scan() {
			s := strings.TrimSpace(sc.Text())
			if len(s) == 0 || s[0] == '#' {
				continue
			}

			var k, v string
			if i := strings.IndexAny(s, delim); i > 0 {
				k = s[:i]
				v = strings.TrimSpace(s[i+1:])
			} else {
				k = s
			}

			ch <- &record{key: []byte(k), val: []byte(v)}
		}
		close(ch)
	}()

	var n uint64
	for r := range ch {
		if err := w.Add(r.key, r.val); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func die(f string, v ...interface{}) {
	warn(f, v...)
	os.Exit(1)
}

func warn(f string, v ...interface{}) {
	z := fmt.Sprintf("%s: %s", os.Args[0], f)
	s := fmt.Sprintf(z, v...)
	if n := len(s); n == 0 || s[n-1] != '\n' {
		s += "\n"
	}
	os.Stderr.WriteString(s)
	os.Stderr.Sync()
}
