// dkimverify reads an RFC 5322 message from stdin or a file and reports
// the result of verifying every DKIM-Signature header field it carries.
package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"blitiri.com.ar/go/log"
	"github.com/docopt/docopt-go"

	"github.com/relaymta/dkimverify"
)

const usage = `
Usage:
  dkimverify [options] [<file>]

Options:
  -v --verbose  Log every diagnostic, not just the final result.
  -q --quiet    Print nothing; rely on the exit code.
`

func main() {
	args, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log.Init()
	verbose, _ := args["--verbose"].(bool)
	quiet, _ := args["--quiet"].(bool)

	var raw []byte
	if path, ok := args["<file>"].(string); ok && path != "" {
		raw, err = ioutil.ReadFile(path)
	} else {
		raw, err = ioutil.ReadAll(os.Stdin)
	}
	if err != nil {
		log.Errorf("reading message: %v", err)
		os.Exit(2)
	}

	report, err := dkim.VerifyWithOptions(raw, &dkim.Options{Trace: verbose})
	if err != nil {
		log.Errorf("parsing message: %v", err)
		os.Exit(2)
	}

	if len(report) == 0 {
		if !quiet {
			fmt.Println("no DKIM-Signature header fields found")
		}
		os.Exit(1)
	}

	for _, res := range report {
		if !quiet {
			fmt.Println(res.String())
		}
	}

	if !report.Passed() {
		os.Exit(1)
	}
}
