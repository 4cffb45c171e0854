package tickets

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/biter777/countries"
	"github.com/tidwall/gjson"
	"github.com/ttacon/libphonenumber"
)

var priorityNames = map[int64]string{
	1: "Low",
	2: "Medium",
	3: "High",
	4: "Urgent",
}

var sourceNames = map[int64]string{
	1:  "Email",
	2:  "Portal",
	3:  "Phone",
	7:  "Chat",
	9:  "Feedback Widget",
	10: "Outbound Email",
}

// ticketModifiers can be used in extraColumns paths, e.g.
//
//	status_label: status|@statusName
//	agent_url:    id|@ticketURL:https://acme.freshdesk.com
//	vip:          tags|@hasTag:VIP
//	escalated:    priority|@atLeast:3
//	mobile:       requester.mobile|@phone:44
//	country:      custom_fields.cf_country|@countryName
//
// A modifier that cannot produce a value returns nothing and the column is
// null for that ticket.
var ticketModifiers = map[string]func(jsonIn, arg string) string{
	"statusName": func(jsonIn, _ string) string {
		res := gjson.Parse(jsonIn)
		if res.Type != gjson.Number {
			return ""
		}
		return quote(Status(res.Int()).String())
	},
	"priorityName": codeName(priorityNames),
	"sourceName":   codeName(sourceNames),

	// @ticketURL:<helpdesk base> links a ticket id to the agent portal.
	"ticketURL": func(jsonIn, arg string) string {
		res := gjson.Parse(jsonIn)
		if res.Type != gjson.Number || arg == "" {
			return ""
		}
		link, err := url.JoinPath(arg, "a", "tickets", strconv.FormatInt(res.Int(), 10))
		if err != nil {
			return ""
		}
		return quote(link)
	},

	// @hasTag:<tag> compares tags case-insensitively, as Freshdesk does.
	"hasTag": func(jsonIn, arg string) string {
		res := gjson.Parse(jsonIn)
		if !res.Exists() || res.Type == gjson.Null {
			return "false"
		}
		tags := []gjson.Result{res}
		if res.IsArray() {
			tags = res.Array()
		}
		for _, tag := range tags {
			if strings.EqualFold(strings.TrimSpace(tag.String()), arg) {
				return "true"
			}
		}
		return "false"
	},

	"atLeast": func(jsonIn, arg string) string {
		res := gjson.Parse(jsonIn)
		if res.Type != gjson.Number {
			return ""
		}
		threshold, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return ""
		}
		return strconv.FormatBool(res.Float() >= threshold)
	},

	// @phone:<default calling code> renders a requester number in E.164.
	// Numbers already written with a + keep their own country.
	"phone": func(jsonIn, arg string) string {
		number := strings.TrimSpace(gjson.Parse(jsonIn).String())
		if number == "" {
			return ""
		}
		region := "ZZ"
		if code, err := strconv.Atoi(arg); err == nil {
			region = libphonenumber.GetRegionCodeForCountryCode(code)
		}
		parsed, err := libphonenumber.Parse(number, region)
		if err != nil {
			slog.Debug("phone number not parsed", "number", number, "region", region, "error", err)
			return quote(number)
		}
		return quote(libphonenumber.Format(parsed, libphonenumber.E164))
	},

	"countryName": func(jsonIn, _ string) string {
		c := countries.ByName(gjson.Parse(jsonIn).String()) // Alpha-2, Alpha-3 or name
		if c == countries.Unknown {
			return ""
		}
		return quote(c.String())
	},
}

func init() {
	for name, fn := range ticketModifiers {
		gjson.AddModifier(name, fn)
	}
}

// codeName maps a numeric Freshdesk code to its label. Unknown codes, such as
// custom sources, have no label.
func codeName(names map[int64]string) func(jsonIn, arg string) string {
	return func(jsonIn, _ string) string {
		res := gjson.Parse(jsonIn)
		if res.Type != gjson.Number {
			return ""
		}
		name, ok := names[res.Int()]
		if !ok {
			return ""
		}
		return quote(name)
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
