package main

import (
	"net/http"

	"github.com/go-zoox/devproxy"
	"github.com/go-zoox/devproxy/utils/rewriter"
	"github.com/go-zoox/logger"
)

func main() {
	rules, err := devproxy.NewRuleSet(devproxy.Rule{
		MatchPrefix:  "/api",
		Target:       "http://localhost:8089",
		ChangeOrigin: true,
		Rewrites: rewriter.Rewriters{
			{From: "^", To: ""},
		},
		OnResponse: func(res *http.Response) error {
			res.Header.Set("Content-Encoding", "chunked")
			return nil
		},
	})
	if err != nil {
		logger.Fatalf("invalid rules: %s", err)
	}

	router := devproxy.NewRouter(rules)

	logger.Infof("listening at http://127.0.0.1:5173")
	if err := http.ListenAndServe("127.0.0.1:5173", router); err != nil {
		logger.Fatalf("serve: %s", err)
	}
}
