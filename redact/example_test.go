package redact_test

import (
	"fmt"

	"github.com/jonwraymond/httpobserve/redact"
)

func ExampleRedactor_Redact() {
	r := redact.Default()

	fmt.Println(r.Redact(`{"user":"alice","password":"hunter2"}`, "application/json"))
	fmt.Println(r.Redact("user=alice&token=abc", "application/x-www-form-urlencoded"))
	// Output:
	// {"password":"[REDACTED]","user":"alice"}
	// user=alice&token=[REDACTED]
}

func ExampleRedactor_RedactQueryString() {
	r := redact.Default()

	fmt.Println(r.RedactQueryString("?id=5&token=abc123"))
	// Output:
	// ?id=5&token=[REDACTED]
}

func ExampleNew() {
	p := redact.DefaultPolicy()
	p.SensitiveKeys = []string{"ssn"}
	p.Replacement = "***"

	r, err := redact.New(p)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(r.Redact("<person><ssn>123-45-6789</ssn></person>", "application/xml"))
	// Output:
	// <person><ssn>***</ssn></person>
}
