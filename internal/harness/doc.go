// Package harness runs commission scenarios end to end.
//
// A scenario names a plan, the transaction records the source serves and
// the execution parameters, then states what the run must produce. Every
// scenario runs the real engine against an in-memory source and plan store
// with a fixed clock and sequential execution ids, so results are
// reproducible and can be compared against golden files.
//
// # Scenario Format
//
//	name: second_tier
//	description: "75000 in invoices lands in the second tier"
//	plan_file: plans/q1.yaml        # or an inline plan: {...}
//	records:
//	  Invoices:
//	    - {InvoiceID: I-1, SalesRep: alice, InvoiceDate: "2024-02-15", InvoiceAmount: 75000}
//	params:
//	  mode: Simulate
//	  period_start: "2024-01-01"
//	  period_end: "2024-03-31"
//	expect:
//	  status: COMPLETED
//	  total_commission: 1500
//	  participants:
//	    alice: {commission: 1500, rate: 2}
//	assertions:
//	  - type: log_contains
//	    category: Commission Calculation
//	    participant: alice
//
// # Assertion Types
//
//   - log_contains: an entry with the category (and level, participant) exists
//   - log_order: categories first appear in the given order
//   - log_count: exactly count entries match category and level
//   - persisted: the plan store received count results and the plan was marked
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/second_tier.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err == nil && !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
