package sigv4_test

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/lestrrat-go/sigv4"
)

// ExampleSigner_Sign demonstrates how to sign an HTTP request
func ExampleSigner_Sign() {
	signer, err := sigv4.New()
	if err != nil {
		panic(err)
	}

	req, err := http.NewRequest(http.MethodGet, "https://example.amazonaws.com/", nil)
	if err != nil {
		panic(err)
	}

	creds := aws.Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
	}

	// A fixed signing time makes the output reproducible. Without it the
	// signer's clock is used.
	signTime := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
	res, err := signer.Sign(context.Background(), req, creds, "us-east-1", "service", sigv4.WithSigningTime(signTime))
	if err != nil {
		panic(err)
	}

	fmt.Println(req.Header.Get("X-Amz-Date"))
	fmt.Println(res.SignedHeaders)
	fmt.Println(req.Header.Get("Authorization"))
	// Output:
	// 20150830T123600Z
	// host;x-amz-date
	// AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20150830/us-east-1/service/aws4_request, SignedHeaders=host;x-amz-date, Signature=5fa00fa31553b73ebf1942676e86291e8372ff2a2260956d9b8aae1d763fbf31
}

// ExampleSigner_Presign demonstrates how to create a presigned URL
func ExampleSigner_Presign() {
	signer, err := sigv4.New()
	if err != nil {
		panic(err)
	}

	req, err := http.NewRequest(http.MethodGet, "https://iam.amazonaws.com/?Action=ListUsers&Version=2010-05-08", nil)
	if err != nil {
		panic(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	// headers present on the request are signed and must be sent with the URL
	req.Header.Set("X-Amz-Date", "20150830T123600Z")

	creds := aws.Credentials{
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
	}
	signTime := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
	res, err := signer.Presign(context.Background(), req, creds, "us-east-1", "iam", time.Minute, sigv4.WithSigningTime(signTime))
	if err != nil {
		panic(err)
	}

	fmt.Println(res.URL.Query().Get("X-Amz-Expires"))
	fmt.Println(res.Signature)
	// Output:
	// 60
	// 63613d9c6a68b0e499ed9beeeabe0c4f3295742554209d6f109fe3c9563f56c3
}
