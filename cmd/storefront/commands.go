package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"storefront/internal/checkout"
	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/session"
)

// Global flags (apply to all commands)
var (
	quiet   bool
	noColor bool
	asJSON  bool
)

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only print essential output")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: storefront %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
}

// =============================================================================
// CATALOG & CART
// =============================================================================

func runMenu(args []string) error {
	fs := newFlagSet("menu", "[options]")
	parse(fs, args)

	return withSession(func(ctx context.Context, s *session.Session) error {
		items, err := s.Menu(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSONValue(items)
		}
		for _, it := range items {
			fmt.Printf("  %s%4d%s  %-32s %10s\n", colorCyan, it.ID, colorReset, it.Name, model.FormatAmount(it.Price))
		}
		return nil
	})
}

func runCart(args []string) error {
	fs := newFlagSet("cart", "[options]")
	parse(fs, args)

	return withSession(func(ctx context.Context, s *session.Session) error {
		printCart(s.ViewCart())
		return nil
	})
}

func runAdd(args []string) error {
	fs := newFlagSet("add", "-product ID [options]")
	productID := fs.Int("product", 0, "Menu item ID (required)")
	qty := fs.Int("qty", 1, "Quantity")
	parse(fs, args)

	if *productID <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	return withSession(func(ctx context.Context, s *session.Session) error {
		if err := s.AddToCart(ctx, *productID, *qty); err != nil {
			return err
		}
		printSuccess("Added %d x item %d", *qty, *productID)
		printCart(s.ViewCart())
		return nil
	})
}

func runQty(args []string) error {
	fs := newFlagSet("qty", "-product ID -delta N [options]")
	productID := fs.Int("product", 0, "Menu item ID (required)")
	delta := fs.Int("delta", 0, "Quantity change; negative to reduce (required)")
	parse(fs, args)

	if *productID <= 0 || *delta == 0 {
		fs.Usage()
		os.Exit(1)
	}

	return withSession(func(ctx context.Context, s *session.Session) error {
		if err := s.ChangeQuantity(ctx, *productID, *delta); err != nil {
			return err
		}
		printCart(s.ViewCart())
		return nil
	})
}

func runRemove(args []string) error {
	fs := newFlagSet("remove", "-product ID [options]")
	productID := fs.Int("product", 0, "Menu item ID (required)")
	parse(fs, args)

	if *productID <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	return withSession(func(ctx context.Context, s *session.Session) error {
		if err := s.RemoveFromCart(ctx, *productID); err != nil {
			return err
		}
		printSuccess("Removed item %d", *productID)
		printCart(s.ViewCart())
		return nil
	})
}

func runCoupon(args []string) error {
	fs := newFlagSet("coupon", "-code CODE | -clear [options]")
	code := fs.String("code", "", "Promotion code to apply")
	clearCoupon := fs.Bool("clear", false, "Remove the applied coupon")
	parse(fs, args)

	if *code == "" && !*clearCoupon {
		fs.Usage()
		os.Exit(1)
	}

	return withSession(func(ctx context.Context, s *session.Session) error {
		if *clearCoupon {
			s.RemoveCoupon(ctx)
			printSuccess("Coupon removed")
		} else {
			coupon, err := s.ApplyCoupon(ctx, *code)
			if err != nil {
				return err
			}
			printSuccess("Coupon %s applied (%s%% off)", coupon.Code, coupon.DiscountPercent)
		}
		printCart(s.ViewCart())
		return nil
	})
}

// =============================================================================
// CHECKOUT
// =============================================================================

func runCheckout(args []string) error {
	fs := newFlagSet("checkout", "[options]")
	service := fs.String("service", string(model.ServiceDineIn), "Service type: DINE_IN, TAKEAWAY or DELIVERY")
	parse(fs, args)

	serviceType := model.ServiceType(strings.ToUpper(strings.TrimSpace(*service)))
	return withSession(func(ctx context.Context, s *session.Session) error {
		return printCheckout(s.Checkout(ctx, serviceType))
	})
}

func runRetry(args []string) error {
	fs := newFlagSet("retry", "[options]")
	parse(fs, args)

	return withSession(func(ctx context.Context, s *session.Session) error {
		return printCheckout(s.RetryPayment(ctx))
	})
}

func runResume(args []string) error {
	fs := newFlagSet("resume", "[-order ID] [options]")
	orderID := fs.Int("order", 0, "Order ID (defaults to the current checkout's order)")
	parse(fs, args)

	return withSession(func(ctx context.Context, s *session.Session) error {
		return printCheckout(s.ResumePayment(ctx, *orderID))
	})
}

// errCheckoutFailed marks a checkout whose failure was already printed.
var errCheckoutFailed = errors.New("checkout failed")

// printCheckout reports a checkout result. A failed run returns
// errCheckoutFailed so main exits with status 2.
func printCheckout(res *checkout.Result, err error) error {
	if res == nil {
		return err
	}
	if asJSON {
		if jerr := printJSONValue(res); jerr != nil {
			return jerr
		}
		if err != nil {
			return errCheckoutFailed
		}
		return nil
	}

	switch {
	case res.State == checkout.StateCaptured:
		printSuccess("%s", res.Message)
	case res.Signal == checkout.SignalRedirect:
		printInfo("%s", res.Message)
	case err != nil || res.State == checkout.StateFailed:
		printError("%s", res.Message)
	default:
		printWarning("%s", res.Message)
	}

	if quiet && res.Payment != nil {
		fmt.Println(res.Payment.OrderID)
	}
	if err != nil {
		return errCheckoutFailed
	}
	return nil
}

// =============================================================================
// ACCOUNT
// =============================================================================

func runLogin(args []string) error {
	fs := newFlagSet("login", "-u USER [-p PASSWORD] [options]")
	username := fs.String("u", "", "Username (required)")
	password := fs.String("p", "", "Password (defaults to $STOREFRONT_PASSWORD)")
	parse(fs, args)

	if *password == "" {
		*password = os.Getenv("STOREFRONT_PASSWORD")
	}
	if *username == "" || *password == "" {
		fs.Usage()
		os.Exit(1)
	}

	return withSession(func(ctx context.Context, s *session.Session) error {
		id, err := s.Login(ctx, *username, *password)
		if err != nil {
			return err
		}
		printIdentity(*id)
		return nil
	})
}

func runRegister(args []string) error {
	fs := newFlagSet("register", "-u USER -email EMAIL [-p PASSWORD] [options]")
	var req gateway.RegisterRequest
	fs.StringVar(&req.Username, "u", "", "Username (required)")
	fs.StringVar(&req.Email, "email", "", "Email address (required)")
	fs.StringVar(&req.Password, "p", "", "Password (defaults to $STOREFRONT_PASSWORD)")
	fs.StringVar(&req.FirstName, "first", "", "First name")
	fs.StringVar(&req.LastName, "last", "", "Last name")
	parse(fs, args)

	if req.Password == "" {
		req.Password = os.Getenv("STOREFRONT_PASSWORD")
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		fs.Usage()
		os.Exit(1)
	}

	return withSession(func(ctx context.Context, s *session.Session) error {
		id, err := s.Register(ctx, req)
		if err != nil {
			return err
		}
		printSuccess("Account created")
		printIdentity(*id)
		return nil
	})
}

func runLogout(args []string) error {
	fs := newFlagSet("logout", "[options]")
	parse(fs, args)

	return withSession(func(ctx context.Context, s *session.Session) error {
		if err := s.Logout(ctx); err != nil {
			return err
		}
		printSuccess("Signed out")
		return nil
	})
}

func runOrders(args []string) error {
	fs := newFlagSet("orders", "[options]")
	parse(fs, args)

	return withSession(func(ctx context.Context, s *session.Session) error {
		orders, err := s.Orders(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSONValue(orders)
		}
		if len(orders) == 0 {
			printInfo("No orders yet")
			return nil
		}
		for _, o := range orders {
			paid := colorYellow + "unpaid" + colorReset
			if o.IsPaid {
				paid = colorGreen + "paid" + colorReset
			}
			fmt.Printf("  #%-6d %-10s %-10s %10s  %s\n", o.ID, o.ServiceType, o.Status, model.FormatAmount(o.Total), paid)
		}
		return nil
	})
}

func runWhoami(args []string) error {
	fs := newFlagSet("whoami", "[options]")
	parse(fs, args)

	return withSession(func(ctx context.Context, s *session.Session) error {
		printIdentity(s.Whoami())
		return nil
	})
}

// describeError renders err for the terminal, preferring backend detail.
func describeError(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if text := model.DetailText(apiErr.Detail); text != "" && apiErr.Kind != model.KindOrder {
			return fmt.Sprintf("%s (%s)", apiErr.Message, text)
		}
		return apiErr.Message
	}
	return err.Error()
}

func printJSONValue(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
