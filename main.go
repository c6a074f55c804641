// Command scrape-orchestrator runs the scrape orchestration service and its
// operator console.
package main

import (
	"github.com/JakeFAU/scrape-orchestrator/cmd"
)

func main() {
	cmd.Execute()
}
