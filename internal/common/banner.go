package common

import (
	"fmt"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(config *Config, configFile, logFile string) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorPurple).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")

	b.PrintTopLine()
	b.PrintCenteredText("STUDIO BOARD")
	b.PrintCenteredText("Client & Project Tracking Service")
	b.PrintSeparatorLine()

	b.PrintKeyValue("Version", GetVersion(), 15)
	b.PrintKeyValue("Build", GetBuild(), 15)
	b.PrintKeyValue("Environment", config.Server.Environment, 15)
	b.PrintKeyValue("Port", fmt.Sprintf("%d", config.Server.Port), 15)
	b.PrintBottomLine()

	fmt.Printf("\n")

	fmt.Printf("📋 Configuration:\n")
	if configFile == "" {
		configFile = "(defaults)"
	}
	fmt.Printf("   • Config File: %s\n", configFile)
	fmt.Printf("   • Database: %s\n", config.Storage.DatabasePath)
	if config.BlobConfigured() {
		fmt.Printf("   • Blob Storage: %s/%s (%s)\n", config.Blob.Endpoint, config.Blob.Bucket, config.Blob.Auth)
	} else {
		fmt.Printf("   • Blob Storage: not configured\n")
	}
	if config.Auth.Enabled {
		fmt.Printf("   • Auth: enabled (%s)\n", strings.Join(config.Auth.AllowedDomains, ", "))
	} else {
		fmt.Printf("   • Auth: disabled (dev user %s)\n", config.Auth.DevUser)
	}

	if logFile != "" {
		pattern := strings.Replace(logFile, ".log", ".{YYYY-MM-DDTHH-MM-SS}.log", 1)
		fmt.Printf("   • Log File: %s\n", pattern)
	}
	fmt.Printf("\n")
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(serviceName string) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorPurple).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText(serviceName)
	b.PrintBottomLine()
	fmt.Println()
}

// PrintColorizedMessage prints a message with specified color
func PrintColorizedMessage(color, message string) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

func PrintSuccess(message string) {
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("✓ %s", message))
}

func PrintError(message string) {
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("✗ %s", message))
}

func PrintWarning(message string) {
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("⚠ %s", message))
}
