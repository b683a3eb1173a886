package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/danshapiro/attractorctl/internal/attractor/modeldb"
)

func cmdListModels(args []string) int {
	fs := flag.NewFlagSet("list-models", flag.ContinueOnError)
	catalogPath := fs.String("catalog", "", "path to an OpenRouter /api/v1/models JSON payload")
	provider := fs.String("provider", "", "only list models for this provider")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *catalogPath == "" {
		fmt.Fprintln(os.Stderr, "usage: attractorctl list-models --catalog <file> [--provider <p>]")
		fs.PrintDefaults()
		return 2
	}

	cat, err := modeldb.LoadCatalogFromOpenRouterJSON(*catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "attractorctl: %v\n", err)
		return 1
	}

	if *provider != "" && !modeldb.CatalogCoversProvider(cat, *provider) {
		fmt.Fprintf(os.Stderr, "attractorctl: catalog has no models for provider %q\n", *provider)
		return 1
	}

	ids := make([]string, 0, len(cat.Models))
	for id, entry := range cat.Models {
		if *provider != "" && entry.Provider != "" && entry.Provider != normalizeForFilter(*provider) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		entry := cat.Models[id]
		fmt.Printf("%-50s provider=%-12s context=%-8d tools=%v vision=%v reasoning=%v\n",
			id, entry.Provider, entry.ContextWindow, entry.SupportsTools, entry.SupportsVision, entry.SupportsReasoning)
	}
	fmt.Printf("%d model(s) (catalog sha256=%s)\n", len(ids), cat.SHA256)
	return 0
}

func normalizeForFilter(provider string) string {
	switch provider {
	case "anthropic-api", "claude":
		return "anthropic"
	case "openai-api", "azure-openai":
		return "openai"
	case "google-genai", "vertexai", "vertex":
		return "google"
	default:
		return provider
	}
}
