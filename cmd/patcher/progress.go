package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/utils"
)

// printer renders engine progress as plain lines.
type printer struct {
	out      io.Writer
	quiet    bool
	throttle *utils.Throttle

	mu   sync.Mutex
	last string
}

func newPrinter(out io.Writer, quiet bool) *printer {
	return &printer{out: out, quiet: quiet, throttle: utils.NewThrottle(utils.DefaultProgressInterval * 4)}
}

func (p *printer) observer() core.Observer {
	return core.Observer{
		Overall: core.SinkFunc(func(fraction float64, message string) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.quiet || message == p.last {
				return
			}
			p.last = message
			fmt.Fprintf(p.out, "[%3.0f%%] %s\n", fraction*100, message)
		}),
		Transfer: core.SinkFunc(func(_ float64, message string) {
			if p.quiet {
				return
			}
			p.throttle.Do(func() {
				p.mu.Lock()
				fmt.Fprintf(p.out, "       %s\n", message)
				p.mu.Unlock()
			})
		}),
	}
}

// finish prints the report and maps its outcome to the command result.
func (p *printer) finish(rep *core.Report, runErr error) error {
	if rep == nil {
		rep = &core.Report{Outcome: core.OutcomeFailed, Message: core.UserMessage(runErr)}
	}
	if outputJSON {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(p.out, rep.Message)
		if rep.Batch != nil && rep.Batch.Failed > 0 {
			for _, f := range rep.Batch.Files {
				if f != nil && f.Status == core.FileStatusError {
					fmt.Fprintf(p.out, "  failed: %s: %s\n", f.Path, f.Error)
				}
			}
		}
	}
	switch {
	case runErr != nil:
		return runErr
	case rep.Outcome == core.OutcomeDegraded:
		return errDegraded
	}
	return nil
}
