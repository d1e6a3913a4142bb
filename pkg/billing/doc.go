// Package billing provides subscription plans, per-period usage counters and
// the limit gate that decides whether a user may perform a billable action.
//
// # Overview
//
// Every user has exactly one subscription. New users start on the default
// (free) plan. Usage is counted per usage type inside rolling 30-day billing
// periods anchored at the subscription start; a new period starts with all
// counters at zero.
//
// # Plans
//
// Free:
//   - $0/month
//   - 30 text, 5 voice, 5 image, 10 AI conversation, 1 budget
//
// Basic ($2.99/month):
//   - 150 text, 30 voice, 20 image, 50 AI conversation, 5 budget
//   - CSV export
//
// Premium ($7.99/month):
//   - Unlimited text, AI conversation and budgets; 100 voice, 50 image
//   - CSV and PDF export
//
// A catalog can also be loaded from YAML with LoadCatalog:
//
//	plans:
//	  - id: free
//	    name: Free
//	    default: true
//	    limits:
//	      text: 30
//	      ai_conversation: unlimited
//
// # Usage Example
//
// Gate an action and record it afterwards:
//
//	check, err := svc.CheckLimit(ctx, phone, billing.UsageText)
//	if err != nil {
//		return err
//	}
//	if !check.Allowed {
//		return sendUpgradeMessage(check)
//	}
//	// ... perform the action ...
//	_, err = svc.Increment(ctx, phone, billing.UsageText)
//
// CheckLimit followed by Increment is a soft quota: concurrent requests can
// exceed a ceiling by a small amount. Consume performs both steps while
// holding a per-user lock.
//
// # Related Packages
//
//   - pkg/payments: recurring charges and retries
//   - pkg/scheduler: daily renewal, retry and expiry sweeps
//   - pkg/storage/memory, pkg/storage/postgres: Store implementations
package billing
