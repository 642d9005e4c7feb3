// Package sms is a thin client for an HTTP SMS gateway.
package sms

import (
	"fmt"
	"net/http"
	"net/url"
)

type Client struct {
	apiKey  string
	sender  string
	baseURL string
}

func NewClient(baseURL, apiKey, sender string) *Client {
	return &Client{
		apiKey:  apiKey,
		sender:  sender,
		baseURL: baseURL,
	}
}

// Send delivers a text message to the given phone number.
func (c *Client) Send(phone, message string) error {
	endpoint := c.baseURL + "/messages"

	params := url.Values{}
	params.Add("api_key", c.apiKey)
	params.Add("from", c.sender)
	params.Add("to", phone)
	params.Add("text", message)

	resp, err := http.PostForm(endpoint, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sms gateway error: %s", resp.Status)
	}

	return nil
}
