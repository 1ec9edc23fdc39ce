// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:generate go run . -o ../../schemas
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/redbonzai/github-pr-wrapper/pkg/appservice"
	"github.com/redbonzai/github-pr-wrapper/pkg/prwrapper"
	"github.com/redbonzai/github-pr-wrapper/pkg/pullrequest"
)

var outputFlag = flag.String("o", "", "output directory")

func main() {
	flag.Parse()

	if *outputFlag == "" {
		log.Fatal("output path is required")
	}
	if err := os.MkdirAll(*outputFlag, 0o755); err != nil {
		log.Fatal(err)
	}

	r := new(jsonschema.Reflector)
	for _, pkg := range []string{"prwrapper", "pullrequest", "appservice"} {
		if err := r.AddGoComments("github.com/redbonzai/github-pr-wrapper/pkg/"+pkg, filepath.Join("../../pkg", pkg)); err != nil {
			log.Fatal(err)
		}
	}

	for _, t := range []any{
		pullrequest.NewPullRequest{},
		prwrapper.CommentRequest{},
		prwrapper.OwnerRepo{},
		prwrapper.MergeRequest{},
		prwrapper.SlackMessage{},
		appservice.AlertRequest{},
	} {
		if err := write(filepath.Join(*outputFlag, fmt.Sprintf("%T.json", t)), r.Reflect(t)); err != nil {
			log.Fatal(err)
		}
	}
}

func write(path string, schema *jsonschema.Schema) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(schema)
}
