package dispatcher

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/defiguard/internal/chain"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/types"
	"github.com/defiguard/internal/wallet"
)

const registerExample = "register 0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb ethereum,polygon"

const displayTime = "2006-01-02 15:04"

// LevelEmoji returns the marker shown next to a risk level
func LevelEmoji(level types.RiskLevel) string {
	switch level {
	case types.RiskLow:
		return "🟢"
	case types.RiskMedium:
		return "🟡"
	case types.RiskHigh:
		return "🟠"
	case types.RiskCritical:
		return "🔴"
	default:
		return "⚪"
	}
}

func percent(score float64) string {
	return fmt.Sprintf("%.2f%%", score*100)
}

func numbered(b *strings.Builder, items []string) {
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}

// RenderAlert formats an alert for live delivery
func RenderAlert(rec models.AlertRecord) string {
	emoji := LevelEmoji(rec.Level)
	var b strings.Builder
	fmt.Fprintf(&b, "%s **DeFiGuard Alert** %s\n\n", emoji, emoji)
	fmt.Fprintf(&b, "**Risk Level:** %s\n", strings.ToUpper(string(rec.Level)))
	fmt.Fprintf(&b, "**Risk Score:** %s\n", percent(rec.Score))
	fmt.Fprintf(&b, "**Time:** %s UTC\n\n", formatTime(rec.Timestamp))

	if len(rec.Concerns) > 0 {
		b.WriteString("**⚠️ Concerns:**\n")
		numbered(&b, rec.Concerns)
		b.WriteString("\n")
	}
	if len(rec.Recommendations) > 0 {
		b.WriteString("**💡 Recommendations:**\n")
		numbered(&b, rec.Recommendations)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderMarketAlerts formats market movement alerts, most severe first
func RenderMarketAlerts(alerts []models.MarketAlert) string {
	sorted := append([]models.MarketAlert(nil), alerts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Severity() > sorted[j].Severity.Severity()
	})
	var b strings.Builder
	b.WriteString("📊 **DeFiGuard Market Alert**\n\n")
	for i, a := range sorted {
		fmt.Fprintf(&b, "%d. %s %s (%s)\n", i+1, LevelEmoji(a.Severity), a.Message, strings.ToUpper(string(a.Severity)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderWelcomeBack(p *models.Portfolio) string {
	return fmt.Sprintf("👋 **Welcome back to DeFiGuard!**\n\n"+
		"✅ Portfolio registered: %d wallet(s) on %d chain(s)\n\n"+
		"Your portfolio is being monitored around the clock.\n\n"+
		"**Commands:**\n\n"+
		"`status` current portfolio risk\n\n"+
		"`history` recent alerts (last %d)\n\n"+
		"`portfolio` registered wallets and chains\n\n"+
		"`register <wallet> <chains>` update your portfolio\n\n"+
		"`help` full command reference",
		len(p.Wallets), len(p.Chains), historySize)
}

func renderOnboarding(registry *chain.Registry) string {
	return "👋 **Welcome to DeFiGuard!**\n\n" +
		"To get started, register your portfolio:\n\n" +
		"`register <wallet_address> <chain1,chain2,...>`\n\n" +
		"**Example:**\n\n" +
		"`" + registerExample + "`\n\n" +
		"**Supported Chains:**\n\n" +
		strings.Join(registry.Keys(), ", ") + "\n\n" +
		"Type **help** for more commands."
}

func renderRegistered(p *models.Portfolio, added wallet.Address) string {
	return fmt.Sprintf("✅ **Portfolio Registered Successfully!**\n\n"+
		"**Wallet:** `%s`\n\n"+
		"**Chains:** %s\n\n"+
		"**Monitored wallets:** %d\n\n"+
		"A first scan has been scheduled. Alerts will appear here automatically when risks are found.",
		added.Hex(), strings.Join(p.Chains, ", "), len(p.Wallets))
}

func renderParseError(err error) string {
	var b strings.Builder
	b.WriteString("❌ **Could not register portfolio**\n\n")

	var pe *ParseError
	if errors.As(err, &pe) {
		for _, p := range pe.Problems {
			fmt.Fprintf(&b, "- %s\n", p.Error())
		}
	} else {
		fmt.Fprintf(&b, "- %s\n", err.Error())
	}

	b.WriteString("\n**Correct format:**\n\n")
	b.WriteString("`register <wallet_address> <chains>`\n\n")
	b.WriteString("**Example:**\n\n")
	b.WriteString("`" + registerExample + "`")
	return b.String()
}

func renderNoPortfolio() string {
	return "❌ No portfolio registered yet.\n\n" +
		"Use:\n\n`register <wallet_address> <chains>`\n\n" +
		"Example:\n\n`" + registerExample + "`"
}

func renderStatus(rec *models.AlertRecord) string {
	if rec == nil {
		return "📊 **Current Portfolio Status**\n\n" +
			"**Risk Level:** " + strings.ToUpper(string(types.RiskLow)) + "\n\n" +
			"**Risk Score:** " + percent(0) + "\n\n" +
			"No risk alerts have been raised for your portfolio yet."
	}
	return fmt.Sprintf("📊 **Current Portfolio Status**\n\n"+
		"%s **Risk Level:** %s\n\n"+
		"**Risk Score:** %s\n\n"+
		"**Last Updated:** %s UTC\n\n"+
		"Type `history` for more details.",
		LevelEmoji(rec.Level), strings.ToUpper(string(rec.Level)), percent(rec.Score),
		formatTime(rec.Timestamp))
}

func renderHistory(recs []models.AlertRecord) string {
	if len(recs) == 0 {
		return "No alert history found."
	}
	var b strings.Builder
	b.WriteString("📜 **Recent Alerts**\n\n")
	for i, rec := range recs {
		fmt.Fprintf(&b, "%d. %s %s (%.1f%%) - %s\n", i+1, LevelEmoji(rec.Level),
			strings.ToUpper(string(rec.Level)), rec.Score*100, formatTime(rec.Timestamp))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderPortfolio(p *models.Portfolio) string {
	var b strings.Builder
	b.WriteString("📋 **Your Registered Portfolio**\n\n**Wallets:**\n")
	for i, w := range p.Wallets {
		fmt.Fprintf(&b, "%d. `%s`\n", i+1, wallet.Mask(w))
	}
	fmt.Fprintf(&b, "\n**Chains:**\n%s\n\n", strings.Join(p.Chains, ", "))
	fmt.Fprintf(&b, "**Registered:** %s UTC\n\n", formatTime(p.RegisteredAt))
	b.WriteString("To update, use:\n\n`register <new_wallet> <chains>`")
	return b.String()
}

func renderChains(registry *chain.Registry) string {
	var b strings.Builder
	b.WriteString("⛓️ **Supported Chains**\n\n")
	for _, c := range registry.All() {
		fmt.Fprintf(&b, "- **%s** (`%s`) chain id %d, native %s\n", c.Name, c.Key, c.ChainID, c.NativeSymbol)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHelp(registry *chain.Registry) string {
	return "🆘 **DeFiGuard Help**\n\n" +
		"**Setup:**\n\n" +
		"`register <wallet> <chains>` register or update your portfolio (up to " + fmt.Sprint(MaxChains) + " chains)\n\n" +
		"**Commands:**\n\n" +
		"`status` current portfolio risk level\n\n" +
		"`history` recent alerts (last " + fmt.Sprint(historySize) + ")\n\n" +
		"`portfolio` registered wallets and chains\n\n" +
		"`chains` supported chains\n\n" +
		"`help` show this message\n\n" +
		"**Risk Levels:**\n\n" +
		"🟢 **Low** - Portfolio is healthy\n\n" +
		"🟡 **Medium** - Monitor closely\n\n" +
		"🟠 **High** - Action recommended\n\n" +
		"🔴 **Critical** - Immediate action needed\n\n" +
		"**Supported Chains:**\n\n" +
		strings.Join(registry.Keys(), ", ")
}

func renderNotRecognized(text string) string {
	return fmt.Sprintf("Command '%s' not recognized.\n\nType `help` to see available commands.", strings.TrimSpace(text))
}

func renderInternalError() string {
	return "⚠️ Something went wrong while handling your request. Please try again in a moment."
}

func formatTime(t time.Time) string {
	return t.UTC().Format(displayTime)
}
