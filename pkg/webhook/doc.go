/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package webhook propagates the webhook CA bundle into the cluster objects
// that tell the API server how to call the webhook server, and mounts the
// caller's handlers on a controller-runtime webhook server.
//
// # caBundle propagation
//
//   - [UpdateAdmissionWebhookConfigs] writes the bundle into every entry of
//     the ValidatingWebhookConfiguration and MutatingWebhookConfiguration
//     sharing one name. At least one of the two must exist.
//   - [UpdateCRDConversionConfigs] writes the bundle into the conversion
//     webhook client config of every Webhook-strategy CRD in an API group.
//
// Both use Server-Side Apply with the [FieldOwner] field manager, so a later
// "kubectl apply --server-side" of the install manifests does not wipe the
// injected bundle. Objects already carrying the bundle are not written.
//
// # Handlers
//
// [Register] mounts mutate, validate and convert handlers at their paths and
// records per-path request metrics. Decoding payloads is left to the
// handlers themselves.
package webhook
