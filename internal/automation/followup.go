package automation

import (
	"fmt"
	"strings"

	"waroute/internal/store"
)

var followUpTemplates = map[string][]string{
	// Warm and hot leads get the nudge toward a next step.
	"interested": {
		"Hi %s, I noticed you were interested in our products. Would you like to schedule a demo?",
		"Hello %s, our team is ready to provide you with a detailed quote. When would be a good time to connect?",
		"Hi %s, we have some special offers this month. Would you like to know more?",
	},
	"inactive": {
		"%s, we haven't heard from you in a while. Is there anything we can help you with?",
		"Hello %s, we have some new products that might interest you. Would you like to see them?",
		"Hi %s, hope you're doing well. Any updates on your requirements?",
	},
}

// followUpMessage picks a template pool by tag and fills in the contact name.
func followUpMessage(c *store.Contact) string {
	kind := "inactive"
	if c.Tag == store.TagWarmLead || c.Tag == store.TagHotLead {
		kind = "interested"
	}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(pick(followUpTemplates[kind]), name)
}

type offer struct {
	discount int
	desc     string
	validity int // days
}

var offers = map[string]offer{
	"new_customer": {discount: 15, desc: "Welcome offer for new customers", validity: 30},
	"bulk_order":   {discount: 20, desc: "Bulk order discount (minimum 10 pieces)", validity: 15},
	"seasonal":     {discount: 10, desc: "Seasonal discount offer", validity: 7},
}

// offerMessage builds a personalized promotion. New contacts get the welcome
// offer, hot leads the bulk discount, everyone else the seasonal one.
func offerMessage(c *store.Contact, messageCount int) string {
	kind := "seasonal"
	switch {
	case messageCount == 0:
		kind = "new_customer"
	case c.Tag == store.TagHotLead:
		kind = "bulk_order"
	}
	o := offers[kind]

	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"Special offer for %s! Get %d%% off on all products. %s. Valid for %d days. Reply 'INTERESTED' to claim this offer!",
		name, o.discount, o.desc, o.validity)
}
