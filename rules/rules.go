//go:build ruleguard

// Package gorules contains project-specific ruleguard checks run through
// golangci-lint.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern; wg.Go is used instead.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// becomes
//
//	wg.Go(work)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }()").
		Suggest("$wg.Go(func() { $*_ })")

	m.Match(`$wg.Add(1)`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(), it calls Add(1) itself")
}

// OutboundHTTP flags direct use of net/http clients. Outbound calls go through
// internal/httpclient so they get the proxy, User-Agent and metrics hooks.
func OutboundHTTP(m dsl.Matcher) {
	m.Import("net/http")

	m.Match(`http.Get($*_)`, `http.Post($*_)`, `http.Head($*_)`, `http.PostForm($*_)`).
		Where(!m.File().PkgPath.Matches(`/internal/httpclient$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("use internal/httpclient instead of the net/http package-level helpers")

	m.Match(`http.DefaultClient`).
		Where(!m.File().PkgPath.Matches(`/internal/httpclient$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("use internal/httpclient instead of http.DefaultClient")

	m.Match(`&http.Client{$*_}`, `http.Client{$*_}`).
		Where(!m.File().PkgPath.Matches(`/internal/httpclient$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("construct clients with httpclient.New")
}

// StdLog flags the standard log package. Production code logs through
// logger.Global().Module(name).
func StdLog(m dsl.Matcher) {
	m.Import("log")

	m.Match(`log.Print($*_)`, `log.Printf($*_)`, `log.Println($*_)`,
		`log.Fatal($*_)`, `log.Fatalf($*_)`, `log.Fatalln($*_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report("use the structured logger instead of the standard log package")
}
