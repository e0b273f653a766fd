// Package webhook serves HMAC-signed HTTP endpoints whose verified bodies are
// handed to plugin units implementing plugin.WebhookReceiver.
//
// Each endpoint names a target unit, a shared secret and the header carrying
// the signature ("sha256=<hex>" or bare hex). Requests flow as:
//
//  1. body read up to max_body_size (413 beyond it)
//  2. HMAC-SHA256 verified in constant time (403, no detail, on mismatch)
//  3. target resolved through the plugin registry (404 if missing, disabled
//     or not a receiver)
//  4. ReceiveWebhook called; its error yields 422, its result a 202
//
// Example configuration:
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /webhook/inbox
//	      plugin: Inbox
//	      secret: ${INBOX_WEBHOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 64KB
package webhook
