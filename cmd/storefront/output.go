package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"storefront/internal/model"
	"storefront/internal/session"
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

// printNavigator shows the hosted payment URL instead of opening a browser.
type printNavigator struct{}

func (printNavigator) Navigate(_ context.Context, url string) error {
	fmt.Fprintf(os.Stderr, "%s→ Open %s to pay%s\n", colorGray, url, colorReset)
	return nil
}

func printCart(v session.CartView) {
	if asJSON {
		printJSONValue(v)
		return
	}
	if quiet {
		fmt.Println(v.Count)
		return
	}
	if len(v.Lines) == 0 {
		printInfo("Cart is empty")
		return
	}

	for _, line := range v.Lines {
		fmt.Printf("  %s%4d%s  %-28s %3d x %8s = %10s\n",
			colorCyan, line.ProductID, colorReset, line.DisplayName, line.Quantity,
			model.FormatAmount(line.UnitPrice), model.FormatAmount(line.LineTotal))
	}
	fmt.Printf("  %-50s %10s\n", "Subtotal", model.FormatAmount(v.Totals.Subtotal))
	if c := v.Totals.Coupon; c != nil {
		fmt.Printf("  %-50s %10s\n", fmt.Sprintf("Coupon %s (%s%%)", c.Code, c.DiscountPercent), "-"+model.FormatAmount(v.Totals.Discount))
	}
	fmt.Printf("  %s%-50s %10s%s\n", colorBold, "Payable", model.FormatAmount(v.Totals.Payable), colorReset)
}

func printIdentity(id session.Identity) {
	if asJSON {
		printJSONValue(id)
		return
	}
	if !id.SignedIn {
		printInfo("Not signed in")
		return
	}
	name := id.Username
	if name == "" {
		name = "(unknown user)"
	}
	if quiet {
		fmt.Println(name)
		return
	}
	printSuccess("Signed in as %s%s%s", colorCyan, name, colorGreen)
	if id.ExpiresAt != nil {
		printInfo("Access token expires %s", id.ExpiresAt.Local().Format(time.RFC1123))
	}
}

func printSuccess(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...any) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...any) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
