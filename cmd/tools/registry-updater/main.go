// cmd/tools/registry-updater/main.go
package main

import (
	"flag"
	"fmt"
	"os"

	"crm-assistant/pkg/registry"

	pui "crm-assistant/internal/workers/ai-conversation/parse-user-intent"
)

const defaultPath = "configs/catalog.json"

func main() {
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	promptCmd := flag.NewFlagSet("prompt", flag.ExitOnError)

	exportPath := exportCmd.String("path", defaultPath, "Where to write the built-in catalog")

	updatePath := updateCmd.String("path", defaultPath, "Catalog file to update")
	name := updateCmd.String("name", "", "Function name (e.g., getLeads)")
	field := updateCmd.String("field", "", "Field to update (description, signature)")
	value := updateCmd.String("value", "", "New value for the field")

	validatePath := validateCmd.String("path", defaultPath, "Catalog file to validate")
	promptPath := promptCmd.String("path", "", "Catalog file (built-in catalog when empty)")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "export":
		exportCmd.Parse(os.Args[2:])
		if err := registry.SaveRegistry(*exportPath, registry.DefaultCatalog()); err != nil {
			fmt.Printf("Error exporting catalog: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote built-in catalog to %s\n", *exportPath)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *name == "" || *field == "" || *value == "" {
			fmt.Println("Error: name, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateFunction(*updatePath, *name, *field, *value); err != nil {
			fmt.Printf("Error updating function: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated function %s, field %s\n", *name, *field)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		cat, err := registry.LoadRegistry(*validatePath)
		if err != nil {
			fmt.Printf("Catalog validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Catalog validation passed (%d functions).\n", len(cat.Functions))

	case "prompt":
		promptCmd.Parse(os.Args[2:])
		cat := registry.DefaultCatalog()
		if *promptPath != "" {
			var err error
			if cat, err = registry.LoadRegistry(*promptPath); err != nil {
				fmt.Printf("Error loading catalog: %v\n", err)
				os.Exit(1)
			}
		}
		fmt.Print(pui.BuildSystemPrompt(cat))

	case "help":
		fallthrough
	default:
		help()
	}
}

func updateFunction(path, name, field, value string) error {
	cat, err := registry.LoadRegistry(path)
	if err != nil {
		return err
	}

	for i := range cat.Functions {
		if cat.Functions[i].Name != name {
			continue
		}
		switch field {
		case "description":
			cat.Functions[i].Description = value
		case "signature":
			cat.Functions[i].Signature = value
		default:
			return fmt.Errorf("unsupported field: %s", field)
		}
		return registry.SaveRegistry(path, cat)
	}
	return fmt.Errorf("function %s not found", name)
}

func help() {
	fmt.Println("Usage: registry-updater <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  export    Write the built-in function catalog to a file")
	fmt.Println("  update    Change a function's description or signature")
	fmt.Println("  validate  Check a catalog file")
	fmt.Println("  prompt    Print the classification prompt for a catalog")
	fmt.Println("  help      Show this help message")
}
