/******************************************************************************
 *
 *  Description :
 *    API key validation. Keys identify the embedding forum application,
 *    not the end user.
 *
 *****************************************************************************/

package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"net/http"

	"github.com/banter-chat/banter/server/logs"
)

// Signed API key. Composition:
//   [1:algorithm version][4:appid][2:key sequence][1:isRoot][16:signature] = 24 bytes
// convertible to base64 without padding.
// All integers are little-endian.
const (
	apikeyVersion   = 1
	apikeyAppID     = 4
	apikeySequence  = 2
	apikeyWho       = 1
	apikeySignature = 16
	apikeyLength    = apikeyVersion + apikeyAppID + apikeySequence + apikeyWho + apikeySignature
)

// checkAPIKey validates an API key signature against the configured salt.
// Returns validity and whether the key is a root key.
func checkAPIKey(apikey string) (isValid, isRoot bool) {
	if declen := base64.URLEncoding.DecodedLen(len(apikey)); declen != apikeyLength {
		return
	}

	data, err := base64.URLEncoding.DecodeString(apikey)
	if err != nil {
		logs.Warning.Println("failed to decode base64 api key", err)
		return
	}
	if data[0] != 1 {
		logs.Warning.Println("unknown api key signature algorithm", data[0])
		return
	}

	hasher := hmac.New(md5.New, globals.apiKeySalt)
	hasher.Write(data[:apikeyVersion+apikeyAppID+apikeySequence+apikeyWho])
	check := hasher.Sum(nil)
	if !bytes.Equal(data[apikeyVersion+apikeyAppID+apikeySequence+apikeyWho:], check) {
		logs.Warning.Println("invalid api key signature")
		return
	}

	isRoot = data[apikeyVersion+apikeyAppID+apikeySequence] == 1

	isValid = true
	return
}

func getAPIKey(req *http.Request) string {
	apikey := req.FormValue("apikey")
	if apikey == "" {
		apikey = req.Header.Get("X-Banter-APIKey")
	}
	return apikey
}
