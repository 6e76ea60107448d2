// Package http provides an http.RoundTripper that signs requests with AWS
// Signature Version 4 and retries them, plus middleware that verifies
// signed requests on the server side.
//
// # Basic Client Usage
//
//	signer, _ := sigv4.New()
//	provider := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
//
//	client, err := http.NewClient(signer, provider, "us-east-1", "execute-api",
//		http.WithRetryStrategy(retry.MustNew(retry.WithMode(retry.ModeAdaptive))),
//	)
//
//	// Every attempt is signed with a fresh X-Amz-Date
//	resp, err := client.Get("https://example.execute-api.us-east-1.amazonaws.com/prod/items")
//
// # Basic Server Usage
//
//	verifier, _ := http.NewVerifier(&http.MapResolver{Credentials: known},
//		http.WithMaxSkew(5*time.Minute),
//	)
//	handler := http.Wrap(myHandler, http.WithVerifier(verifier))
//
// Requests that fail verification are answered by the verifier's error
// handler, 401 Unauthorized by default. Custom error handlers can read the
// failure with VerificationErrorFromContext, and wrapped handlers can read
// the verified signature with ResultFromContext.
package http
