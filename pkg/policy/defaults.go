package policy

import "time"

// DefaultPolicyID is the document consulted when no policy ID is configured.
const DefaultPolicyID = "default-governance"

// DefaultSource is the built-in governance policy. It is written by
// `sentinel policy init` and used by the snapshot path when no policy has
// been compiled yet.
const DefaultSource = `id: default-governance
version: "1"
owners:
  - platform-ops
scope:
  teams: ["*"]
  services: []
rules:
  - metric: passRate
    operator: "<"
    value: 0.9
    action: alert
  - metric: copilotReliability
    operator: "<"
    value: 0.85
    action: alert
  - metric: regressionCount
    operator: ">"
    value: 3
    action: block_risky_ops
  - metric: avgLatency
    operator: ">"
    value: 500
    action: tune_system
  - metric: passRate
    operator: "<"
    value: 0.7
    action: block_all
  - metric: regressionCount
    operator: ">"
    value: 10
    action: block_all
actions:
  alert:
    notifySlack: true
    notifyEmail: true
  block_risky_ops:
    disableIntent: ["retuning", "deploy_model", "bulk_alert"]
  tune_system:
    invoke: tuningLoop
thresholds:
  passRate:
    op: ">="
    value: 0.9
  regressionCount:
    op: "<="
    value: 3
rollout:
  stages:
    - percent: 10
      minHours: 0
    - percent: 50
      minHours: 24
    - percent: 100
      minHours: 24
`

// DefaultDocument returns the compiled built-in policy.
func DefaultDocument() *Document {
	doc, err := Compile([]byte(DefaultSource), DefaultCompiledBy, time.Now())
	if err != nil {
		panic("policy: built-in default does not compile: " + err.Error())
	}
	return doc
}
