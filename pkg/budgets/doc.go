// Package budgets keeps per-category monthly spending caps and the expenses
// counted against them.
//
// Creating a budget is a billable action (usage type "budget"); the caller
// gates it with the plan limit before calling Set. Changing the amount of an
// existing budget is free. RecordExpense reports the category's status once
// spending reaches WarnPercent of its budget.
package budgets
